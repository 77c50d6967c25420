package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	pkgkafka "StockSense/pkg/kafka"
)

// MessageWriter is the producer surface used by KafkaPredictionPublisher.
type MessageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// PredictionEvent is the message emitted for every prediction.
type PredictionEvent struct {
	EventID    string                   `json:"event_id"`
	Type       string                   `json:"type"`
	Prediction *models.PredictionResult `json:"prediction"`
	EmittedAt  time.Time                `json:"emitted_at"`
}

// PredictionEventType tags prediction events.
const PredictionEventType = "prediction.created"

// KafkaPredictionPublisher publishes predictions keyed by ticker so events for
// one ticker stay ordered within a partition.
type KafkaPredictionPublisher struct {
	producer MessageWriter
	topic    string
}

func NewKafkaPredictionPublisher(producer MessageWriter, topic string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func newEvent(p *models.PredictionResult) PredictionEvent {
	return PredictionEvent{
		EventID:    uuid.NewString(),
		Type:       PredictionEventType,
		Prediction: p,
		EmittedAt:  time.Now().UTC(),
	}
}

func (p *KafkaPredictionPublisher) Publish(ctx context.Context, r *models.PredictionResult) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.Ticker), newEvent(r))
}

// PublishBatch sends many predictions in one write.
func (p *KafkaPredictionPublisher) PublishBatch(ctx context.Context, results []models.PredictionResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(results))
	for i := range results {
		msgs[i] = pkgkafka.Message{Key: []byte(results[i].Ticker), Value: newEvent(&results[i])}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// MultiPublisher fans a prediction out to several publishers. Every publisher
// is attempted; the first error is returned.
type MultiPublisher struct {
	pubs []domrepo.PredictionPublisher
}

func NewMultiPublisher(pubs ...domrepo.PredictionPublisher) *MultiPublisher {
	out := &MultiPublisher{}
	for _, p := range pubs {
		if p != nil {
			out.pubs = append(out.pubs, p)
		}
	}
	return out
}

func (m *MultiPublisher) Publish(ctx context.Context, r *models.PredictionResult) error {
	var first error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiPublisher) Close() error {
	var first error
	for _, p := range m.pubs {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ domrepo.PredictionPublisher = (*KafkaPredictionPublisher)(nil)
	_ domrepo.PredictionPublisher = (*MultiPublisher)(nil)
	_ MessageWriter               = (*pkgkafka.Producer)(nil)
)
