package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	domsvc "StockSense/internal/domain/service"
	"StockSense/internal/repository"
	"StockSense/internal/services/features"
	"StockSense/internal/services/preprocess"
	"StockSense/internal/services/regime"
	"StockSense/internal/services/training"
	"StockSense/pkg/cache"
	"StockSense/pkg/queue"
)

type fakePrices struct {
	bars map[string][]models.PriceBar
	err  map[string]error
}

func (f *fakePrices) GetDailyBars(_ context.Context, ticker string, asOf time.Time, limit int) ([]models.PriceBar, error) {
	if err := f.err[ticker]; err != nil {
		return nil, err
	}
	var out []models.PriceBar
	for _, b := range f.bars[ticker] {
		if !asOf.IsZero() && b.Date.After(asOf) {
			continue
		}
		out = append(out, b)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakePrices) ListTickers(context.Context) ([]string, error) {
	out := make([]string, 0, len(f.bars))
	for t := range f.bars {
		out = append(out, t)
	}
	return out, nil
}

// linearTrainer returns a one-member model predicting a constant return.
type linearTrainer struct {
	ret float64
}

func (l linearTrainer) Train(_ context.Context, ticker string, _ int, names []string, X [][]float64, _ []float64, _ []float64) (*models.TrainedModel, error) {
	return &models.TrainedModel{
		Ticker:   ticker,
		Features: append([]string(nil), names...),
		Metrics:  models.FitMetrics{R2: 0.3, MAPE: 4, Folds: 3},
		Members: []models.EnsembleMember{{
			Name:   training.MemberRidge,
			Kind:   models.MemberLinear,
			Weight: 1,
			Linear: &models.LinearModel{Intercept: l.ret, Coef: make([]float64, len(names))},
		}},
		DataPoints: len(X),
		TrainedAt:  time.Now().UTC(),
	}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	saved []string
	sent  []string
}

func (r *recordingSink) Save(_ context.Context, p *models.PredictionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, p.Ticker)
	return nil
}

func (r *recordingSink) Latest(context.Context, string) (*models.PredictionResult, error) {
	return nil, domrepo.ErrNotFound
}

func (r *recordingSink) Publish(_ context.Context, p *models.PredictionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p.Ticker)
	return nil
}

func (r *recordingSink) Close() error { return nil }

type recordingQueue struct {
	msgType string
	payload interface{}
}

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType, q.payload = msgType, payload
	return "job-1", nil
}

func series(ticker string, n int, phase float64) []models.PriceBar {
	bars := make([]models.PriceBar, 0, n)
	d := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		c := 100*(1+0.001*float64(i)) + 5*math.Sin(float64(i)/7+phase)
		bars = append(bars, models.PriceBar{
			Date:   d,
			Ticker: ticker,
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1e6 + 1e5*math.Sin(float64(i)/3),
		})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func newTestPipeline(prices domrepo.PriceSource, trainer domsvc.ModelTrainer, opts ...Option) (*Pipeline, *repository.CacheArtifactStore) {
	mem := cache.NewMemoryCache()
	store := repository.NewCacheArtifactStore(mem, 0)
	p := NewPipeline(
		prices,
		store,
		features.NewEngine(),
		preprocess.NewValidator(features.DefaultMinHistory),
		trainer,
		regime.NewDetector(regime.DefaultWindow, regime.DefaultBand),
		opts...,
	)
	return p, store
}

func tenTickers() (*fakePrices, []string) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{}}
	var names []string
	for i := 1; i <= 10; i++ {
		name := fmt.Sprintf("T%02d", i)
		n := 320
		if i == 4 {
			n = 40
		}
		prices.bars[name] = series(name, n, float64(i))
		names = append(names, name)
	}
	return prices, names
}

func TestBatchIsolatesShortHistoryTicker(t *testing.T) {
	prices, names := tenTickers()
	sink := &recordingSink{}
	p, _ := newTestPipeline(prices, linearTrainer{ret: 0.03},
		WithWorkers(3), WithPredictionStore(sink), WithPublisher(sink))
	ctx := context.Background()

	report, err := p.TrainAll(ctx, names, 0, nil)
	require.NoError(t, err)
	assert.Len(t, report.Trained, 9)
	require.Contains(t, report.Errors, "T04")
	assert.Equal(t, 7, report.HorizonDays)

	var calls atomic.Int32
	batch, err := p.PredictAll(ctx, names, func(done, total int, _ string, _ error) {
		calls.Add(1)
		assert.Equal(t, 10, total)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), calls.Load())
	assert.Len(t, batch.Results, 9)
	require.Contains(t, batch.Errors, "T04")
	assert.Equal(t, 10, batch.Summary.TotalStocks)
	assert.Equal(t, 1, batch.Summary.Errors)
	assert.InDelta(t, 90.0, batch.Summary.SuccessRate, 1e-9)
	assert.Equal(t, 9, batch.Summary.Buy+batch.Summary.Hold+batch.Summary.Sell)
	require.NotNil(t, batch.Statistics)
	assert.GreaterOrEqual(t, batch.Statistics.Confidence.Min, 25.0)
	assert.LessOrEqual(t, batch.Statistics.Confidence.Max, 95.0)
	for _, r := range batch.Results {
		assert.NotEqual(t, "T04", r.Ticker)
	}
	assert.Len(t, sink.saved, 9)
	assert.Len(t, sink.sent, 9)
}

func TestPredictProducesConsistentResult(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"OGDC": series("OGDC", 320, 0)}}
	p, _ := newTestPipeline(prices, linearTrainer{ret: 0.02})
	ctx := context.Background()

	_, err := p.Train(ctx, "OGDC")
	require.NoError(t, err)
	res, err := p.Predict(ctx, "OGDC", time.Time{})
	require.NoError(t, err)

	bars := prices.bars["OGDC"]
	last := bars[len(bars)-1]
	assert.Equal(t, last.Close, res.CurrentPrice)
	assert.True(t, last.Date.Equal(res.AsOfDate))
	assert.InDelta(t, 2.0, res.PredictedReturn, 1e-9)
	assert.InDelta(t, last.Close*1.02, res.PredictedPrice, 1e-9)
	assert.Equal(t, 7, res.HorizonDays)
	assert.True(t, res.PredictionDate.After(res.AsOfDate))
	assert.Equal(t, int64(1), res.ModelVersion)
	assert.Contains(t, res.ModelPredictions, training.MemberRidge)
	assert.InDelta(t, 100.0, res.EnsembleAgreement, 1e-9)
	assert.NotEmpty(t, res.Reasoning)
	assert.GreaterOrEqual(t, res.Confidence, 25.0)
	assert.LessOrEqual(t, res.Confidence, 95.0)
}

// retrainingStore publishes a new model and scaler right after GetModel
// returns, the window a concurrent retrain can land in.
type retrainingStore struct {
	*repository.CacheArtifactStore
	once         sync.Once
	retrain      func()
	pinned       []int64
	currentReads int
}

func (s *retrainingStore) GetModel(ctx context.Context, ticker string) (*models.TrainedModel, error) {
	m, err := s.CacheArtifactStore.GetModel(ctx, ticker)
	s.once.Do(s.retrain)
	return m, err
}

func (s *retrainingStore) GetScaler(ctx context.Context, ticker string) (*models.ScalerState, error) {
	s.currentReads++
	return s.CacheArtifactStore.GetScaler(ctx, ticker)
}

func (s *retrainingStore) GetScalerVersion(ctx context.Context, ticker string, v int64) (*models.ScalerState, error) {
	s.pinned = append(s.pinned, v)
	return s.CacheArtifactStore.GetScalerVersion(ctx, ticker, v)
}

func TestPredictUsesScalerPinnedByModel(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"ENGRO": series("ENGRO", 320, 0)}}
	store := &retrainingStore{CacheArtifactStore: repository.NewCacheArtifactStore(cache.NewMemoryCache(), 0)}
	p := NewPipeline(prices, store, features.NewEngine(),
		preprocess.NewValidator(features.DefaultMinHistory), linearTrainer{ret: 0.02},
		regime.NewDetector(regime.DefaultWindow, regime.DefaultBand))
	ctx := context.Background()

	m, err := p.Train(ctx, "ENGRO")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ScalerVersion)

	store.retrain = func() {
		bars := prices.bars["ENGRO"]
		for i := range bars {
			bars[i].Open *= 10
			bars[i].High *= 10
			bars[i].Low *= 10
			bars[i].Close *= 10
		}
		_, err := p.Train(ctx, "ENGRO")
		require.NoError(t, err)
	}

	res, err := p.Predict(ctx, "ENGRO", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ModelVersion)
	assert.Equal(t, []int64{1}, store.pinned)
	assert.Zero(t, store.currentReads)

	// the retrain did publish a differently scaled scaler in between
	v1, err := store.CacheArtifactStore.GetScalerVersion(ctx, "ENGRO", 1)
	require.NoError(t, err)
	cur, err := store.CacheArtifactStore.GetScaler(ctx, "ENGRO")
	require.NoError(t, err)
	assert.InDelta(t, 10*v1.Stats["sma_3"].Mean, cur.Stats["sma_3"].Mean, 1e-6*cur.Stats["sma_3"].Mean)
}

func TestPredictIsDeterministic(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"HBL": series("HBL", 320, 1)}}
	p, _ := newTestPipeline(prices, linearTrainer{ret: -0.01})
	ctx := context.Background()
	_, err := p.Train(ctx, "HBL")
	require.NoError(t, err)

	a, err := p.Predict(ctx, "HBL", time.Time{})
	require.NoError(t, err)
	b, err := p.Predict(ctx, "HBL", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, a.PredictedPrice, b.PredictedPrice)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.Signal, b.Signal)
}

func TestPredictAsOfUsesEarlierBar(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"LUCK": series("LUCK", 320, 2)}}
	p, _ := newTestPipeline(prices, linearTrainer{ret: 0.01})
	ctx := context.Background()
	_, err := p.Train(ctx, "LUCK")
	require.NoError(t, err)

	asOf := prices.bars["LUCK"][250].Date
	res, err := p.Predict(ctx, "LUCK", asOf)
	require.NoError(t, err)
	assert.True(t, res.AsOfDate.Equal(asOf))
	assert.Equal(t, prices.bars["LUCK"][250].Close, res.CurrentPrice)
}

func TestPredictUntrainedTicker(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"MCB": series("MCB", 320, 0)}}
	p, _ := newTestPipeline(prices, linearTrainer{})

	_, err := p.Predict(context.Background(), "MCB", time.Time{})
	assert.ErrorIs(t, err, models.ErrMissingModel)
}

func TestTrainShortHistory(t *testing.T) {
	prices := &fakePrices{bars: map[string][]models.PriceBar{"NEW": series("NEW", 40, 0)}}
	p, _ := newTestPipeline(prices, linearTrainer{})

	_, err := p.Train(context.Background(), "NEW")
	assert.True(t, errors.Is(err, models.ErrInsufficientData) || errors.Is(err, models.ErrInsufficientHistory))
}

func TestRecommendationsClampAndOrder(t *testing.T) {
	prices, names := tenTickers()
	p, _ := newTestPipeline(prices, linearTrainer{ret: 0.04}, WithTickers(names))
	ctx := context.Background()
	_, err := p.TrainAll(ctx, nil, 0, nil)
	require.NoError(t, err)

	rec, err := p.Recommendations(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, MaxTopN, rec.TopN)
	assert.LessOrEqual(t, len(rec.TopBuys), MaxTopN)
	for i := 1; i < len(rec.TopBuys); i++ {
		assert.GreaterOrEqual(t, rec.TopBuys[i-1].Confidence, rec.TopBuys[i].Confidence)
	}
	assert.Contains(t, rec.Errors, "T04")

	rec, err = p.Recommendations(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TopN)
	assert.LessOrEqual(t, len(rec.TopBuys), 1)
}

func TestModelInfoAndHealth(t *testing.T) {
	prices, names := tenTickers()
	p, _ := newTestPipeline(prices, linearTrainer{ret: 0.01}, WithTickers(names))
	ctx := context.Background()

	h, err := p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, 10, h.TickersTracked)

	_, err = p.TrainAll(ctx, nil, 5, nil)
	require.NoError(t, err)

	info, err := p.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, info.TotalEnsembles)
	assert.Equal(t, []string{"T04"}, info.Missing)
	assert.Equal(t, len(features.NewEngine().Names()), info.FeatureCount)
	assert.Equal(t, 3, info.Models["T01"].Metrics.Folds)
	assert.InDelta(t, 1.0, info.Models["T01"].EnsembleWeights[training.MemberRidge], 1e-12)

	h, err = p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 9, h.ModelsLoaded)
}

func TestEnqueueTraining(t *testing.T) {
	prices, _ := tenTickers()
	p, _ := newTestPipeline(prices, linearTrainer{})
	_, err := p.EnqueueTraining(context.Background(), nil, 7)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	q := &recordingQueue{}
	p, _ = newTestPipeline(prices, linearTrainer{}, WithJobQueue(q))
	report, err := p.EnqueueTraining(context.Background(), []string{"ogdc"}, 10)
	require.NoError(t, err)
	assert.True(t, report.Queued)
	assert.Equal(t, "job-1", report.JobID)
	assert.Equal(t, RetrainJobType, q.msgType)
	assert.Equal(t, RetrainPayload{Tickers: []string{"OGDC"}, PredictionDays: 10}, q.payload)
}

type statsQueue struct{ recordingQueue }

func (statsQueue) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats{Pending: 2, Dead: 1}, nil
}

func TestHealthReportsQueueDepth(t *testing.T) {
	prices, _ := tenTickers()
	p, _ := newTestPipeline(prices, linearTrainer{}, WithJobQueue(&statsQueue{}))

	h, err := p.Health(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h.Queue)
	assert.Equal(t, int64(2), h.Queue.Pending)
	assert.Equal(t, int64(1), h.Queue.Dead)
}

func TestTrainAndPredictWithRealEnsemble(t *testing.T) {
	if testing.Short() {
		t.Skip("trains boosters")
	}
	leaf := training.DefaultLeafWise()
	leaf.NumLeaves = 8
	leaf.MaxDepth = 4
	leaf.Rounds = 40
	leaf.EarlyStopping = 10
	leaf.LearningRate = 0.1
	leaf.MinChildSamples = 10
	depth := training.DefaultDepthWise()
	depth.Rounds = 40
	depth.EarlyStopping = 10
	depth.MinChildSamples = 10
	trainer := training.NewTrainer(training.Config{
		Folds:          3,
		MinFoldSamples: 20,
		Candidates:     []models.BoosterParams{leaf},
		DepthWise:      depth,
	})

	prices := &fakePrices{bars: map[string][]models.PriceBar{"ENGRO": series("ENGRO", 320, 0.5)}}
	p, store := newTestPipeline(prices, trainer)
	ctx := context.Background()

	m, err := p.Train(ctx, "ENGRO")
	require.NoError(t, err)
	require.Len(t, m.Members, 3)
	assert.Equal(t, 7, m.HorizonDays)

	stored, err := store.GetModel(ctx, "ENGRO")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	res, err := p.Predict(ctx, "ENGRO", time.Time{})
	require.NoError(t, err)
	assert.Len(t, res.ModelPredictions, 3)
	assert.Contains(t, []models.Signal{models.SignalBuy, models.SignalHold, models.SignalSell}, res.Signal)
	assert.False(t, math.IsNaN(res.PredictedPrice))
	assert.GreaterOrEqual(t, res.EnsembleAgreement, 0.0)
	assert.LessOrEqual(t, res.EnsembleAgreement, 100.0)
}
