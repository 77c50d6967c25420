package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	err     error
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return p.err
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestFieldsAreTyped(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")

	l.Info("trained",
		String("ticker", "AAPL"),
		Int("folds", 5),
		Float64("r2", 0.25),
		Bool("published", true),
		Strings("trained", []string{"AAPL", "MSFT"}),
		Duration("elapsed_ms", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	m := decodeLine(t, &buf)
	assert.Equal(t, "trained", m["message"])
	assert.Equal(t, "AAPL", m["ticker"])
	assert.Equal(t, float64(5), m["folds"])
	assert.Equal(t, 0.25, m["r2"])
	assert.Equal(t, true, m["published"])
	assert.Equal(t, []interface{}{"AAPL", "MSFT"}, m["trained"])
	assert.Equal(t, float64(1500), m["elapsed_ms"])
	assert.Equal(t, "boom", m["error"])
}

func TestNilErrorIsOmitted(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info").Warn("no error", Error(nil))
	_, ok := decodeLine(t, &buf)["error"]
	assert.False(t, ok)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	// unknown levels fall back to info
	buf.Reset()
	NewWithWriter(&buf, "loud").Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "nope", Output: "stdout"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "info", Output: "stderr", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestCollectorAggregatesRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("fetch failed", Int("attempt", i))
	}
	l.Warn("ignored without Warnings")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Level)
	assert.Equal(t, "fetch failed", entries[0].Message)
	assert.Equal(t, 3, entries[0].Count)
	assert.Equal(t, 2, entries[0].Fields["attempt"])
	assert.Contains(t, entries[0].Caller, "logger/logger_test.go:")
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 10*time.Millisecond)
	var msgs []string
	for _, e := range pub.all() {
		msgs = append(msgs, e.Message)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, msgs)
}

func TestCollectorReportsPublishFailure(t *testing.T) {
	var buf bytes.Buffer
	pub := &capturePublisher{err: errors.New("broker down")}
	l := NewWithWriter(&buf, "info")
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub, Warnings: true})

	l.Warn("slow source")
	l.RemoveCollector()

	assert.Contains(t, buf.String(), "log collector publish failed")
	assert.Contains(t, buf.String(), "broker down")
	assert.Len(t, pub.all(), 1)
}
