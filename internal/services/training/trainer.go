package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"StockSense/internal/domain/models"
	domsvc "StockSense/internal/domain/service"
	applogger "StockSense/pkg/logger"
)

// Ensemble member names.
const (
	MemberLeafBooster  = "leaf_booster"
	MemberDepthBooster = "depth_booster"
	MemberRidge        = "ridge"
)

// Config controls cross-validation, the candidate grid and ensemble weights.
type Config struct {
	Folds          int
	MinFoldSamples int
	// Candidates are leaf-wise configurations compared by held-out R².
	Candidates []models.BoosterParams
	DepthWise  models.BoosterParams
	RidgeAlpha float64
	// Weights by member name; normalised before use.
	Weights map[string]float64
}

// DefaultConfig returns the standard training setup.
func DefaultConfig() Config {
	wide := DefaultLeafWise()
	wide.NumLeaves = 31
	wide.LearningRate = 0.05
	wide.Seed = 43
	smooth := DefaultLeafWise()
	smooth.L2 = 1.0
	smooth.FeatureFraction = 0.7
	smooth.Seed = 44
	return Config{
		Folds:          5,
		MinFoldSamples: 20,
		Candidates:     []models.BoosterParams{DefaultLeafWise(), wide, smooth},
		DepthWise:      DefaultDepthWise(),
		RidgeAlpha:     DefaultRidgeAlpha,
		Weights: map[string]float64{
			MemberLeafBooster:  0.35,
			MemberDepthBooster: 0.35,
			MemberRidge:        0.30,
		},
	}
}

// Trainer fits per-ticker ensembles with chronological cross-validation.
type Trainer struct {
	cfg Config
	l   *applogger.Logger
}

func NewTrainer(cfg Config) *Trainer {
	def := DefaultConfig()
	if cfg.Folds <= 0 {
		cfg.Folds = def.Folds
	}
	if cfg.MinFoldSamples <= 0 {
		cfg.MinFoldSamples = def.MinFoldSamples
	}
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.DepthWise.Rounds == 0 {
		cfg.DepthWise = def.DepthWise
	}
	if cfg.RidgeAlpha <= 0 {
		cfg.RidgeAlpha = def.RidgeAlpha
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = def.Weights
	}
	return &Trainer{cfg: cfg}
}

// SetLogger injects a structured logger.
func (t *Trainer) SetLogger(l *applogger.Logger) { t.l = l }

// Config returns the effective configuration.
func (t *Trainer) Config() Config { return t.cfg }

// fitFunc trains one member on a fold and returns its predictor and the
// number of boosting rounds it kept.
type fitFunc func(ctx context.Context, X [][]float64, y []float64, Xval [][]float64, yval []float64) (func([]float64) float64, int, error)

type cvResult struct {
	metrics   models.FitMetrics
	preds     [][]float64
	bestIters []int
}

func boosterFit(p models.BoosterParams) fitFunc {
	return func(ctx context.Context, X [][]float64, y []float64, Xval [][]float64, yval []float64) (func([]float64) float64, int, error) {
		m, err := FitBooster(ctx, p, X, y, Xval, yval)
		if err != nil {
			return nil, 0, err
		}
		return func(x []float64) float64 { return PredictBooster(m, x) }, m.BestIteration, nil
	}
}

// ridgeFit restandardizes on the fold's own training rows so validation rows
// never inform the penalty scale. Boosters bin by rank and need no such step.
func ridgeFit(alpha float64) fitFunc {
	return func(_ context.Context, X [][]float64, y []float64, _ [][]float64, _ []float64) (func([]float64) float64, int, error) {
		mu, sd := columnStats(X)
		m, err := FitRidge(standardize(X, mu, sd), y, alpha)
		if err != nil {
			return nil, 0, err
		}
		return func(x []float64) float64 {
			return PredictLinear(m, standardize([][]float64{x}, mu, sd)[0])
		}, 0, nil
	}
}

func columnStats(X [][]float64) (mu, sd []float64) {
	nf := len(X[0])
	mu, sd = make([]float64, nf), make([]float64, nf)
	for f := 0; f < nf; f++ {
		col := make([]float64, len(X))
		for i, row := range X {
			col[i] = row[f]
		}
		mu[f] = mean(col)
		for _, v := range col {
			sd[f] += (v - mu[f]) * (v - mu[f])
		}
		sd[f] = math.Sqrt(sd[f] / float64(len(col)))
		if sd[f] < 1e-12 {
			sd[f] = 1
		}
	}
	return mu, sd
}

func standardize(X [][]float64, mu, sd []float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for f, v := range row {
			r[f] = (v - mu[f]) / sd[f]
		}
		out[i] = r
	}
	return out
}

func crossValidate(ctx context.Context, folds []Fold, X [][]float64, y, base []float64, fit fitFunc) (*cvResult, error) {
	res := &cvResult{}
	scores := make([]foldScore, 0, len(folds))
	for i, f := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		predict, iters, err := fit(ctx, X[:f.TrainEnd], y[:f.TrainEnd], X[f.ValStart:f.ValEnd], y[f.ValStart:f.ValEnd])
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		preds := make([]float64, f.ValEnd-f.ValStart)
		for j := range preds {
			preds[j] = predict(X[f.ValStart+j])
		}
		scores = append(scores, evaluate(y[f.ValStart:f.ValEnd], preds, base[f.ValStart:f.ValEnd]))
		res.preds = append(res.preds, preds)
		res.bestIters = append(res.bestIters, iters)
	}
	res.metrics = aggregate(scores)
	return res, nil
}

// Train cross-validates the candidate grid, selects the leaf-wise
// configuration with the best mean held-out R², then refits the three
// ensemble members on all rows. horizon rows are purged ahead of every
// validation block.
func (t *Trainer) Train(ctx context.Context, ticker string, horizon int, features []string, X [][]float64, y []float64, basePrices []float64) (*models.TrainedModel, error) {
	if len(X) != len(y) || len(y) != len(basePrices) {
		return nil, fmt.Errorf("%s: mismatched training arrays", ticker)
	}
	folds, err := TimeSeriesSplit(len(X), t.cfg.Folds, horizon, t.cfg.MinFoldSamples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	var (
		selected models.BoosterParams
		leaf     *cvResult
	)
	for ci, cand := range t.cfg.Candidates {
		res, err := crossValidate(ctx, folds, X, y, basePrices, boosterFit(cand))
		if err != nil {
			return nil, fmt.Errorf("%s: candidate %d: %w", ticker, ci, err)
		}
		if t.l != nil {
			t.l.Debug("candidate scored",
				applogger.String("ticker", ticker),
				applogger.Int("candidate", ci),
				applogger.Float64("r2", res.metrics.R2),
				applogger.Float64("mape", res.metrics.MAPE))
		}
		if leaf == nil || res.metrics.R2 > leaf.metrics.R2 {
			leaf, selected = res, cand
		}
	}
	depth, err := crossValidate(ctx, folds, X, y, basePrices, boosterFit(t.cfg.DepthWise))
	if err != nil {
		return nil, fmt.Errorf("%s: depth-wise: %w", ticker, err)
	}
	ridge, err := crossValidate(ctx, folds, X, y, basePrices, ridgeFit(t.cfg.RidgeAlpha))
	if err != nil {
		return nil, fmt.Errorf("%s: ridge: %w", ticker, err)
	}

	weights := normalizeWeights(t.cfg.Weights)
	results := map[string]*cvResult{MemberLeafBooster: leaf, MemberDepthBooster: depth, MemberRidge: ridge}
	blended := make([]foldScore, len(folds))
	for i, f := range folds {
		preds := make([]float64, f.ValEnd-f.ValStart)
		for name, res := range results {
			for j, p := range res.preds[i] {
				preds[j] += weights[name] * p
			}
		}
		blended[i] = evaluate(y[f.ValStart:f.ValEnd], preds, basePrices[f.ValStart:f.ValEnd])
	}

	finalLeaf := selected
	finalLeaf.Rounds = meanRounds(leaf.bestIters, selected.Rounds)
	finalLeaf.EarlyStopping = 0
	leafModel, err := FitBooster(ctx, finalLeaf, X, y, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: final leaf-wise fit: %w", ticker, err)
	}
	finalDepth := t.cfg.DepthWise
	finalDepth.Rounds = meanRounds(depth.bestIters, finalDepth.Rounds)
	finalDepth.EarlyStopping = 0
	depthModel, err := FitBooster(ctx, finalDepth, X, y, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: final depth-wise fit: %w", ticker, err)
	}
	ridgeModel, err := FitRidge(X, y, t.cfg.RidgeAlpha)
	if err != nil {
		return nil, fmt.Errorf("%s: final ridge fit: %w", ticker, err)
	}

	return &models.TrainedModel{
		Ticker:   ticker,
		Features: append([]string(nil), features...),
		Selected: selected,
		Metrics:  aggregate(blended),
		Members: []models.EnsembleMember{
			{Name: MemberLeafBooster, Kind: models.MemberBooster, Weight: weights[MemberLeafBooster], Booster: leafModel, Metrics: leaf.metrics},
			{Name: MemberDepthBooster, Kind: models.MemberBooster, Weight: weights[MemberDepthBooster], Booster: depthModel, Metrics: depth.metrics},
			{Name: MemberRidge, Kind: models.MemberLinear, Weight: weights[MemberRidge], Linear: ridgeModel, Metrics: ridge.metrics},
		},
		DataPoints: len(X),
		TrainedAt:  time.Now().UTC(),
	}, nil
}

func meanRounds(iters []int, fallback int) int {
	if len(iters) == 0 {
		return fallback
	}
	sum := 0
	for _, it := range iters {
		sum += it
	}
	r := int(math.Round(float64(sum) / float64(len(iters))))
	if r < 1 {
		r = 1
	}
	return r
}

func normalizeWeights(w map[string]float64) map[string]float64 {
	total := 0.0
	for _, v := range w {
		if v > 0 {
			total += v
		}
	}
	out := make(map[string]float64, 3)
	for _, name := range []string{MemberLeafBooster, MemberDepthBooster, MemberRidge} {
		if total <= 0 {
			out[name] = 1.0 / 3
			continue
		}
		out[name] = math.Max(w[name], 0) / total
	}
	return out
}

var _ domsvc.ModelTrainer = (*Trainer)(nil)
