package kafka

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "StockSense/pkg/logger"
)

type memWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "unknown compression")

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("none"))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublishBatchEncodesPayloads(t *testing.T) {
	w := &memWriter{}
	p := &Producer{w: w}

	err := p.PublishBatch(context.Background(), "predictions", []Message{
		{Key: []byte("AAPL"), Value: map[string]int{"horizon": 7}},
		{Key: []byte("MSFT"), Value: "raw"},
		{Value: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)
	assert.Equal(t, "predictions", w.msgs[0].Topic)
	assert.JSONEq(t, `{"horizon":7}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Nil(t, w.msgs[2].Key)
	assert.Equal(t, w.msgs[0].Time, w.msgs[2].Time)
}

func TestPublishBatchRejectsUnencodableBeforeWriting(t *testing.T) {
	w := &memWriter{}
	p := &Producer{w: w}

	err := p.PublishBatch(context.Background(), "t", []Message{{Value: "ok"}, {Value: make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message 1")
	assert.Empty(t, w.msgs)

	assert.NoError(t, p.PublishBatch(context.Background(), "t", nil))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{w: &memWriter{err: boom}}
	err := p.PublishMessage(context.Background(), "logs", []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestAsyncCompletionLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	p := &Producer{async: true}
	p.SetLogger(applogger.NewWithWriter(&buf, "info"))

	p.completed([]kafka.Message{{Topic: "predictions", Value: []byte("{}")}}, nil)
	assert.Empty(t, buf.String())

	p.completed([]kafka.Message{{Topic: "predictions", Value: []byte("{}")}}, errors.New("timeout"))
	assert.Contains(t, buf.String(), "kafka async delivery failed")
	assert.Contains(t, buf.String(), `"topic":"predictions"`)
}
