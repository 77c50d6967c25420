package models

import "errors"

// Pipeline error kinds. Callers match them with errors.Is; the wrapped message
// carries the ticker and counts.
var (
	ErrInsufficientHistory  = errors.New("insufficient history")
	ErrInsufficientData     = errors.New("insufficient data after cleaning")
	ErrEmptyFeatureSet      = errors.New("empty feature set")
	ErrMissingScaler        = errors.New("scaler not found, ticker must be trained first")
	ErrMissingModel         = errors.New("model not found, ticker must be trained first")
	ErrTrainingDataTooSmall = errors.New("training data too small")
)
