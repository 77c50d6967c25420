package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	applogger "StockSense/pkg/logger"
)

type fakeTrainer struct {
	tickers []string
	horizon int
	calls   int
	err     error
}

func (f *fakeTrainer) TrainAll(_ context.Context, tickers []string, horizon int, _ ProgressFunc) (*models.TrainReport, error) {
	f.calls++
	f.tickers, f.horizon = tickers, horizon
	if f.err != nil {
		return nil, f.err
	}
	return &models.TrainReport{
		Trained:     tickers,
		Errors:      map[string]string{"BAD": "too short"},
		HorizonDays: horizon,
	}, nil
}

func TestRetrainJob_DecodesQueuePayload(t *testing.T) {
	tr := &fakeTrainer{}
	job := NewRetrainJob(tr, applogger.Nop())
	assert.Equal(t, RetrainJobType, job.Type())

	// payloads come back from Redis as generic maps
	payload := map[string]interface{}{"tickers": []interface{}{"AAPL", "MSFT"}, "prediction_days": float64(10)}
	require.NoError(t, job.Handle(context.Background(), payload))
	assert.Equal(t, []string{"AAPL", "MSFT"}, tr.tickers)
	assert.Equal(t, 10, tr.horizon)

	require.NoError(t, job.Handle(context.Background(), RetrainPayload{}))
	assert.Empty(t, tr.tickers)
	assert.Equal(t, 0, tr.horizon)
}

func TestRetrainJob_PerTickerFailuresAreNotRetried(t *testing.T) {
	tr := &fakeTrainer{}
	job := NewRetrainJob(tr, nil)
	assert.NoError(t, job.Handle(context.Background(), RetrainPayload{Tickers: []string{"BAD"}}))

	boom := errors.New("price source down")
	tr.err = boom
	assert.ErrorIs(t, job.Handle(context.Background(), RetrainPayload{}), boom)
}

func TestRetrainRequestHandler(t *testing.T) {
	tr := &fakeTrainer{}
	h := NewRetrainRequestHandler("retrain-requests", tr, applogger.Nop())
	assert.Equal(t, "retrain-requests", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"tickers":["nvda"],"prediction_days":5}`)))
	assert.Equal(t, []string{"nvda"}, tr.tickers)
	assert.Equal(t, 5, tr.horizon)

	assert.Error(t, h.Handle(context.Background(), []byte(`{not json`)))

	err := h.Handle(context.Background(), []byte(`{"prediction_days":31}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1..30")
	assert.Equal(t, 1, tr.calls)
}
