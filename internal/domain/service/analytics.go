package service

import (
	"context"

	"StockSense/internal/domain/models"
)

// RegimeDetector classifies the trailing market regime from a close series.
type RegimeDetector interface {
	Detect(ctx context.Context, ticker string, closes []float64) (models.RegimeState, error)
}

// ModelTrainer fits a per-ticker ensemble on scaled features and horizon
// return targets. basePrices[i] is the close the target of row i is relative
// to, so targets of the last horizon rows before any cut overlap what follows.
type ModelTrainer interface {
	Train(ctx context.Context, ticker string, horizon int, features []string, X [][]float64, y []float64, basePrices []float64) (*models.TrainedModel, error)
}
