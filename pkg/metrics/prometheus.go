package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"StockSense/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions    *prometheus.CounterVec
	lastConfidence *prometheus.GaugeVec
	trainings      *prometheus.CounterVec
	modelR2        *prometheus.GaugeVec
	trainDuration  prometheus.Histogram
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registering its collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksense_predictions_total",
				Help: "Total number of predictions by signal",
			},
			[]string{"ticker", "signal"},
		),
		lastConfidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stocksense_last_confidence",
				Help: "Confidence of the latest prediction for a ticker",
			},
			[]string{"ticker"},
		),
		trainings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksense_trainings_total",
				Help: "Total number of completed training runs",
			},
			[]string{"ticker"},
		),
		modelR2: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stocksense_model_r2",
				Help: "Cross-validated R2 of the published ensemble",
			},
			[]string{"ticker"},
		),
		trainDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stocksense_training_duration_seconds",
				Help:    "Duration of per-ticker training",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksense_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocksense_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPrediction counts a prediction and stores its confidence.
func (r *Recorder) RecordPrediction(ticker string, signal models.Signal, confidence float64) {
	r.predictions.WithLabelValues(ticker, string(signal)).Inc()
	r.lastConfidence.WithLabelValues(ticker).Set(confidence)
}

// RecordTraining records a published model.
func (r *Recorder) RecordTraining(ticker string, r2 float64, seconds float64) {
	r.trainings.WithLabelValues(ticker).Inc()
	r.modelR2.WithLabelValues(ticker).Set(r2)
	r.trainDuration.Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) RecordPrediction(string, models.Signal, float64) {}
func (Noop) RecordTraining(string, float64, float64)         {}
func (Noop) RecordError(string)                              {}
func (Noop) RecordLatency(string, float64)                   {}
