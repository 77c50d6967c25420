package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"StockSense/internal/domain/models"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/queue"
)

// RetrainJobType is the queue message type handled by RetrainJob.
const RetrainJobType = "retrain"

// RetrainPayload requests training for tickers. An empty list means the
// whole universe; PredictionDays <= 0 means the default horizon.
type RetrainPayload struct {
	Tickers        []string `json:"tickers"`
	PredictionDays int      `json:"prediction_days"`
}

// Trainer is the part of Pipeline the retrain entry points need.
type Trainer interface {
	TrainAll(ctx context.Context, tickers []string, horizon int, progress ProgressFunc) (*models.TrainReport, error)
}

// RetrainJob runs queued training requests.
type RetrainJob struct {
	trainer Trainer
	l       *applogger.Logger
}

func NewRetrainJob(t Trainer, l *applogger.Logger) *RetrainJob {
	return &RetrainJob{trainer: t, l: l}
}

func (j *RetrainJob) Name() string { return "retrain-models" }
func (j *RetrainJob) Type() string { return RetrainJobType }

func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		return fmt.Errorf("retrain payload: %w", err)
	}
	return runRetrain(ctx, j.trainer, j.l, *p)
}

// RetrainRequestHandler consumes retrain requests from a Kafka topic.
type RetrainRequestHandler struct {
	topic   string
	trainer Trainer
	l       *applogger.Logger
}

func NewRetrainRequestHandler(topic string, t Trainer, l *applogger.Logger) *RetrainRequestHandler {
	return &RetrainRequestHandler{topic: topic, trainer: t, l: l}
}

func (h *RetrainRequestHandler) Topic() string { return h.topic }

var (
	_ queue.Job = (*RetrainJob)(nil)
	_ Trainer   = (*Pipeline)(nil)
)

func (h *RetrainRequestHandler) Handle(ctx context.Context, data []byte) error {
	var p RetrainPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode retrain request: %w", err)
	}
	return runRetrain(ctx, h.trainer, h.l, p)
}

// runRetrain treats per-ticker failures as reported, not retryable; only a
// failure to start the batch is returned.
func runRetrain(ctx context.Context, t Trainer, l *applogger.Logger, p RetrainPayload) error {
	if p.PredictionDays < 0 || p.PredictionDays > 30 {
		return fmt.Errorf("prediction_days must be within 1..30, got %d", p.PredictionDays)
	}
	report, err := t.TrainAll(ctx, p.Tickers, p.PredictionDays, nil)
	if err != nil {
		return err
	}
	if l != nil {
		l.Info("retrain finished",
			applogger.Strings("trained", report.Trained),
			applogger.Int("failed", len(report.Errors)),
			applogger.Int("horizon_days", report.HorizonDays),
			applogger.Int64("duration_ms", report.DurationMS))
	}
	return nil
}
