package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	domsvc "StockSense/internal/domain/service"
	"StockSense/internal/services/calibration"
	"StockSense/internal/services/features"
	"StockSense/internal/services/preprocess"
	"StockSense/internal/services/signals"
	"StockSense/internal/services/training"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/queue"
	"StockSense/pkg/util"
)

// Recommendation limits.
const (
	DefaultTopN = 5
	MaxTopN     = 15
)

// ErrQueueUnavailable is returned when async training is requested without a job queue.
var ErrQueueUnavailable = errors.New("job queue not configured")

// ProgressFunc is called after each ticker of a batch finishes.
type ProgressFunc func(done, total int, ticker string, err error)

// Pipeline runs the per-ticker train and predict flows.
type Pipeline struct {
	prices      domrepo.PriceSource
	artifacts   domrepo.ArtifactStore
	predictions domrepo.PredictionStore
	publisher   domrepo.PredictionPublisher
	queue       domrepo.JobQueue
	metrics     domrepo.Metrics

	engine    *features.Engine
	validator *preprocess.Validator
	trainer   domsvc.ModelTrainer
	regime    domsvc.RegimeDetector

	horizon      int
	historyLimit int
	workers      int
	cvFolds      int
	tickers      []string
	l            *applogger.Logger
}

// Option configures Pipeline.
type Option func(*Pipeline)

func WithPredictionStore(s domrepo.PredictionStore) Option {
	return func(p *Pipeline) { p.predictions = s }
}

func WithPublisher(pub domrepo.PredictionPublisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithJobQueue(q domrepo.JobQueue) Option {
	return func(p *Pipeline) { p.queue = q }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHorizon sets the default prediction horizon in trading days.
func WithHorizon(days int) Option {
	return func(p *Pipeline) { p.horizon = days }
}

// WithHistoryLimit caps the number of bars loaded per ticker.
func WithHistoryLimit(n int) Option {
	return func(p *Pipeline) { p.historyLimit = n }
}

func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

func WithCVFolds(n int) Option {
	return func(p *Pipeline) { p.cvFolds = n }
}

// WithTickers sets the default universe. Without it the price source is asked.
func WithTickers(tickers []string) Option {
	return func(p *Pipeline) { p.tickers = util.NormalizeTickers(tickers...) }
}

func NewPipeline(
	prices domrepo.PriceSource,
	artifacts domrepo.ArtifactStore,
	engine *features.Engine,
	validator *preprocess.Validator,
	trainer domsvc.ModelTrainer,
	regime domsvc.RegimeDetector,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		prices:    prices,
		artifacts: artifacts,
		engine:    engine,
		validator: validator,
		trainer:   trainer,
		regime:    regime,
		horizon:   7,
		workers:   4,
		cvFolds:   training.DefaultConfig().Folds,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// SetLogger injects a structured logger.
func (p *Pipeline) SetLogger(l *applogger.Logger) { p.l = l }

// HorizonDays returns the default horizon.
func (p *Pipeline) HorizonDays() int { return p.horizon }

// Tickers returns the configured universe, falling back to the price source.
func (p *Pipeline) Tickers(ctx context.Context) ([]string, error) {
	if len(p.tickers) > 0 {
		return append([]string(nil), p.tickers...), nil
	}
	ts, err := p.prices.ListTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	return util.NormalizeTickers(ts...), nil
}

func (p *Pipeline) resolveTickers(ctx context.Context, tickers []string) ([]string, error) {
	if ts := util.NormalizeTickers(tickers...); len(ts) > 0 {
		return ts, nil
	}
	return p.Tickers(ctx)
}

// Train fits and publishes a model for ticker using the default horizon.
func (p *Pipeline) Train(ctx context.Context, ticker string) (*models.TrainedModel, error) {
	return p.train(ctx, ticker, p.horizon)
}

func (p *Pipeline) train(ctx context.Context, ticker string, horizon int) (*models.TrainedModel, error) {
	start := time.Now()
	if horizon <= 0 {
		horizon = p.horizon
	}

	bars, err := p.prices.GetDailyBars(ctx, ticker, time.Time{}, p.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: load history: %w", ticker, err)
	}
	clean, err := p.validator.Clean(ticker, bars)
	if err != nil {
		return nil, err
	}
	table, err := p.engine.Build(clean)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	train, y := withTargets(table, models.Closes(clean), horizon)
	if train.Len() == 0 {
		return nil, fmt.Errorf("%s: no rows with a %d-day target: %w", ticker, horizon, models.ErrTrainingDataTooSmall)
	}
	scaler, err := preprocess.FitScaler(ticker, train)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}
	X, err := preprocess.Transform(scaler, train)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	model, err := p.trainer.Train(ctx, ticker, horizon, train.Names, X, y, train.Closes)
	if err != nil {
		return nil, err
	}
	model.HorizonDays = horizon
	model.DateFrom = train.Dates[0]
	model.DateTo = train.Dates[train.Len()-1]

	if model.ScalerVersion, err = p.artifacts.PutScaler(ctx, ticker, scaler); err != nil {
		return nil, fmt.Errorf("%s: publish scaler: %w", ticker, err)
	}
	if err := p.artifacts.PutModel(ctx, ticker, model); err != nil {
		return nil, fmt.Errorf("%s: publish model: %w", ticker, err)
	}

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordTraining(ticker, model.Metrics.R2, elapsed.Seconds())
	}
	if p.l != nil {
		p.l.Info("model trained",
			applogger.String("ticker", ticker),
			applogger.Int("rows", train.Len()),
			applogger.Int("horizon_days", horizon),
			applogger.Float64("r2", model.Metrics.R2),
			applogger.Float64("mape", model.Metrics.MAPE),
			applogger.Duration("elapsed_ms", elapsed))
	}
	return model, nil
}

// loadScaler returns the scaler model was fitted against, so a retrain
// published between the two reads cannot pair model with a newer scaler.
func (p *Pipeline) loadScaler(ctx context.Context, ticker string, model *models.TrainedModel) (*models.ScalerState, error) {
	if model.ScalerVersion > 0 {
		return p.artifacts.GetScalerVersion(ctx, ticker, model.ScalerVersion)
	}
	return p.artifacts.GetScaler(ctx, ticker)
}

// withTargets keeps the rows that have a close horizon bars ahead and returns
// them with their forward returns.
func withTargets(t *models.FeatureTable, closes []float64, horizon int) (*models.FeatureTable, []float64) {
	out := &models.FeatureTable{Names: t.Names}
	var y []float64
	for i, idx := range t.Index {
		ahead := idx + horizon
		if ahead >= len(closes) {
			break
		}
		out.Rows = append(out.Rows, t.Rows[i])
		out.Dates = append(out.Dates, t.Dates[i])
		out.Closes = append(out.Closes, t.Closes[i])
		out.Index = append(out.Index, idx)
		y = append(y, closes[ahead]/(closes[idx]+features.Epsilon)-1)
	}
	return out, y
}

// TrainAll trains every ticker on a bounded worker pool. Failures are
// reported per ticker and never abort the batch. horizon <= 0 uses the default.
func (p *Pipeline) TrainAll(ctx context.Context, tickers []string, horizon int, progress ProgressFunc) (*models.TrainReport, error) {
	start := time.Now()
	ts, err := p.resolveTickers(ctx, tickers)
	if err != nil {
		return nil, err
	}
	if horizon <= 0 {
		horizon = p.horizon
	}

	report := &models.TrainReport{
		HorizonDays: horizon,
		Features:    len(p.engine.Names()),
		SubModels:   []string{training.MemberLeafBooster, training.MemberDepthBooster, training.MemberRidge},
		Errors:      map[string]string{},
	}
	trained, errs := fanOut(ctx, p.workers, ts, progress, func(ctx context.Context, ticker string) (*models.TrainedModel, error) {
		return p.train(ctx, ticker, horizon)
	})
	for t := range trained {
		report.Trained = append(report.Trained, t)
	}
	for t, err := range errs {
		report.Errors[t] = err.Error()
		p.recordError("train", t, err)
	}

	sort.Strings(report.Trained)
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	report.DurationMS = time.Since(start).Milliseconds()
	return report, nil
}

// EnqueueTraining hands a training request to the job queue.
func (p *Pipeline) EnqueueTraining(ctx context.Context, tickers []string, horizon int) (*models.TrainReport, error) {
	if p.queue == nil {
		return nil, ErrQueueUnavailable
	}
	payload := RetrainPayload{Tickers: util.NormalizeTickers(tickers...), PredictionDays: horizon}
	id, err := p.queue.Enqueue(ctx, RetrainJobType, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue retrain: %w", err)
	}
	if horizon <= 0 {
		horizon = p.horizon
	}
	return &models.TrainReport{
		HorizonDays: horizon,
		Features:    len(p.engine.Names()),
		Queued:      true,
		JobID:       id,
	}, nil
}

// Predict runs the full apply flow for one ticker. A zero asOf predicts from
// the latest bar.
func (p *Pipeline) Predict(ctx context.Context, ticker string, asOf time.Time) (*models.PredictionResult, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordLatency("predict", time.Since(start).Seconds())
		}
	}()

	model, err := p.artifacts.GetModel(ctx, ticker)
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", ticker, models.ErrMissingModel)
		}
		return nil, fmt.Errorf("%s: load model: %w", ticker, err)
	}
	scaler, err := p.loadScaler(ctx, ticker, model)
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", ticker, models.ErrMissingScaler)
		}
		return nil, fmt.Errorf("%s: load scaler: %w", ticker, err)
	}

	bars, err := p.prices.GetDailyBars(ctx, ticker, asOf, p.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: load history: %w", ticker, err)
	}
	clean, err := p.validator.Clean(ticker, bars)
	if err != nil {
		return nil, err
	}
	table, err := p.engine.Build(clean)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	last := table.Len() - 1
	row := &models.FeatureTable{Names: table.Names, Rows: table.Rows[last:]}
	X, err := preprocess.Transform(scaler, row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}
	current := table.Closes[last]
	pred, err := training.Predict(model, X[0], current)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	state, err := p.regime.Detect(ctx, ticker, models.Closes(clean))
	if err != nil {
		return nil, fmt.Errorf("%s: regime: %w", ticker, err)
	}
	vol := table.Value(last, features.FeatureVol20)
	horizon := model.HorizonDays
	if horizon <= 0 {
		horizon = p.horizon
	}

	conf := calibration.Confidence(calibration.Input{
		R2:              model.Metrics.R2,
		MAPE:            model.Metrics.MAPE,
		Volatility:      vol,
		PredictedReturn: pred.Return,
		HorizonDays:     horizon,
		Regime:          state.Regime,
	})
	dec := signals.Generate(signals.Input{
		ReturnPct:  pred.Return * 100,
		Confidence: conf,
		RSI:        table.Value(last, features.FeatureRSI14),
		Volatility: vol,
		Regime:     state.Regime,
	})

	asOfDate := table.Dates[last]
	res := &models.PredictionResult{
		Ticker:            ticker,
		CurrentPrice:      current,
		PredictedPrice:    pred.Price,
		PredictedReturn:   pred.Return * 100,
		Signal:            dec.Signal,
		Confidence:        dec.Confidence,
		Reasoning:         dec.Reasoning,
		AsOfDate:          asOfDate,
		PredictionDate:    util.AddTradingDays(asOfDate, horizon),
		HorizonDays:       horizon,
		EnsembleAgreement: pred.Agreement,
		ModelPredictions:  pred.MemberPrices,
		Technical:         features.Snapshot(table, state.Regime),
		ModelMetrics:      model.Metrics,
		ModelVersion:      model.Version,
		GeneratedAt:       time.Now().UTC(),
	}

	p.emit(ctx, res)
	if p.metrics != nil {
		p.metrics.RecordPrediction(ticker, res.Signal, res.Confidence)
	}
	return res, nil
}

// emit persists and publishes a prediction. Sink failures are logged and
// counted but do not fail the prediction.
func (p *Pipeline) emit(ctx context.Context, res *models.PredictionResult) {
	if p.predictions != nil {
		if err := p.predictions.Save(ctx, res); err != nil {
			p.recordError("save_prediction", res.Ticker, err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, res); err != nil {
			p.recordError("publish_prediction", res.Ticker, err)
		}
	}
}

// PredictAll predicts every ticker on a bounded worker pool. Failed tickers
// are listed in Errors and excluded from the results.
func (p *Pipeline) PredictAll(ctx context.Context, tickers []string, progress ProgressFunc) (*models.BatchPrediction, error) {
	ts, err := p.resolveTickers(ctx, tickers)
	if err != nil {
		return nil, err
	}

	batch := &models.BatchPrediction{Errors: map[string]string{}}
	results, errs := fanOut(ctx, p.workers, ts, progress, func(ctx context.Context, ticker string) (*models.PredictionResult, error) {
		return p.Predict(ctx, ticker, time.Time{})
	})
	for _, t := range ts {
		if res, ok := results[t]; ok {
			batch.Results = append(batch.Results, *res)
		}
	}
	for t, err := range errs {
		batch.Errors[t] = err.Error()
		p.recordError("predict", t, err)
	}

	summarize(batch, len(ts))
	if len(batch.Errors) == 0 {
		batch.Errors = nil
	}
	batch.Timestamp = time.Now().UTC()
	return batch, nil
}

// Recommendations returns the most confident BUY and SELL calls. topN is
// clamped to 1..15.
func (p *Pipeline) Recommendations(ctx context.Context, topN int) (*models.Recommendations, error) {
	topN = util.Clamp(topN, 1, MaxTopN)
	batch, err := p.PredictAll(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return &models.Recommendations{
		TopN:     topN,
		TopBuys:  head(batch.Predictions.Buy, topN),
		TopSells: head(batch.Predictions.Sell, topN),
		Errors:   batch.Errors,
	}, nil
}

func head(rs []models.PredictionResult, n int) []models.PredictionResult {
	if len(rs) > n {
		rs = rs[:n]
	}
	return append([]models.PredictionResult{}, rs...)
}

// ModelInfo describes every published model.
func (p *Pipeline) ModelInfo(ctx context.Context) (*models.ModelInfo, error) {
	names, err := p.artifacts.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	info := &models.ModelInfo{
		HorizonDays:  p.horizon,
		FeatureCount: len(p.engine.Names()),
		Features:     p.engine.Names(),
		CVFolds:      p.cvFolds,
		Models:       make(map[string]models.TickerModelInfo, len(names)),
	}
	for _, t := range names {
		m, err := p.artifacts.GetModel(ctx, t)
		if err != nil {
			if errors.Is(err, domrepo.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("%s: load model: %w", t, err)
		}
		ti := models.TickerModelInfo{
			Ticker:          t,
			Version:         m.Version,
			Metrics:         m.Metrics,
			MemberMetrics:   make(map[string]models.FitMetrics, len(m.Members)),
			EnsembleWeights: make(map[string]float64, len(m.Members)),
			SelectedParams:  m.Selected,
			DataPoints:      m.DataPoints,
			DateFrom:        m.DateFrom,
			DateTo:          m.DateTo,
			TrainedAt:       m.TrainedAt,
		}
		for _, mem := range m.Members {
			ti.MemberMetrics[mem.Name] = mem.Metrics
			ti.EnsembleWeights[mem.Name] = mem.Weight
		}
		info.Models[t] = ti
	}
	info.TotalEnsembles = len(info.Models)

	if ts, err := p.Tickers(ctx); err == nil {
		for _, t := range ts {
			if _, ok := info.Models[t]; !ok {
				info.Missing = append(info.Missing, t)
			}
		}
	}
	return info, nil
}

// Health reports how many models are published and tickers are tracked.
func (p *Pipeline) Health(ctx context.Context) (*models.HealthStatus, error) {
	names, err := p.artifacts.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	sort.Strings(names)
	h := &models.HealthStatus{
		Status:          "healthy",
		ModelsLoaded:    len(names),
		HorizonDays:     p.horizon,
		AvailableModels: names,
		Timestamp:       time.Now().UTC(),
	}
	ts, err := p.Tickers(ctx)
	if err != nil {
		h.Status = "degraded"
		p.recordError("health", "", err)
	}
	h.TickersTracked = len(ts)
	if len(names) == 0 {
		h.Status = "degraded"
	}
	if qs, ok := p.queue.(queueStatser); ok {
		if st, err := qs.Stats(ctx); err == nil {
			h.Queue = &models.QueueStats{
				Pending:    st.Pending,
				Processing: st.Processing,
				Retrying:   st.Retrying,
				Dead:       st.Dead,
			}
		} else {
			p.recordError("health", "", err)
		}
	}
	return h, nil
}

type queueStatser interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// fanOut runs work for every ticker with at most workers in flight. A panic
// in one ticker's flow becomes that ticker's error.
func fanOut[T any](ctx context.Context, workers int, tickers []string, progress ProgressFunc, work func(context.Context, string) (T, error)) (map[string]T, map[string]error) {
	results := make(map[string]T, len(tickers))
	errs := make(map[string]error)
	if len(tickers) == 0 {
		return results, errs
	}
	if workers > len(tickers) {
		workers = len(tickers)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done atomic.Int32
	)
	jobs := make(chan string)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				v, err := safeRun(ctx, t, work)
				mu.Lock()
				if err != nil {
					errs[t] = err
				} else {
					results[t] = v
				}
				mu.Unlock()
				n := int(done.Add(1))
				if progress != nil {
					progress(n, len(tickers), t, err)
				}
			}
		}()
	}
	for _, t := range tickers {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	return results, errs
}

func safeRun[T any](ctx context.Context, ticker string, work func(context.Context, string) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", ticker, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return v, fmt.Errorf("%s: %w", ticker, err)
	}
	return work(ctx, ticker)
}

func (p *Pipeline) recordError(kind, ticker string, err error) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
	if p.l != nil {
		p.l.Warn(kind+" failed", applogger.String("ticker", ticker), applogger.Error(err))
	}
}
