package repository

import (
	"context"
	"errors"
	"time"

	"StockSense/internal/domain/models"
)

// ErrNotFound is returned by stores when nothing is stored under a key.
var ErrNotFound = errors.New("not found")

// PriceSource provides daily price history per ticker.
type PriceSource interface {
	// GetDailyBars returns up to limit bars ending at asOf (inclusive), oldest
	// first. A zero asOf means latest available; limit <= 0 means all.
	GetDailyBars(ctx context.Context, ticker string, asOf time.Time, limit int) ([]models.PriceBar, error)
	ListTickers(ctx context.Context) ([]string, error)
}

// ArtifactStore persists fitted per-ticker scalers and models. Put publishes a
// new version atomically; readers see either the previous or the new one.
// PutScaler returns the assigned version so a model can pin the scaler it was
// trained with, and GetScalerVersion reads that exact version back.
type ArtifactStore interface {
	GetScaler(ctx context.Context, ticker string) (*models.ScalerState, error)
	GetScalerVersion(ctx context.Context, ticker string, version int64) (*models.ScalerState, error)
	PutScaler(ctx context.Context, ticker string, s *models.ScalerState) (int64, error)
	GetModel(ctx context.Context, ticker string) (*models.TrainedModel, error)
	PutModel(ctx context.Context, ticker string, m *models.TrainedModel) error
	ListModels(ctx context.Context) ([]string, error)
}

// PredictionStore keeps the prediction history and the latest prediction.
type PredictionStore interface {
	Save(ctx context.Context, p *models.PredictionResult) error
	Latest(ctx context.Context, ticker string) (*models.PredictionResult, error)
}

// PredictionPublisher emits predictions to downstream consumers.
type PredictionPublisher interface {
	Publish(ctx context.Context, p *models.PredictionResult) error
	Close() error
}

// JobQueue enqueues background jobs and returns the job id.
type JobQueue interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

type Metrics interface {
	RecordPrediction(ticker string, signal models.Signal, confidence float64)
	RecordTraining(ticker string, r2 float64, seconds float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
