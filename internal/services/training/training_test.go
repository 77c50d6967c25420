package training

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
)

// synthetic returns rows where the target depends on the first two features.
func synthetic(n int, seed int64) ([][]float64, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	base := make([]float64, n)
	for i := range X {
		row := make([]float64, 5)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		X[i] = row
		y[i] = 0.02*row[0] - 0.01*row[1] + 0.002*rng.NormFloat64()
		base[i] = 100 + float64(i)*0.1
	}
	return X, y, base
}

func fastParams(growth string) models.BoosterParams {
	p := DefaultLeafWise()
	p.Growth = growth
	p.NumLeaves = 8
	p.MaxDepth = 4
	p.Rounds = 150
	p.EarlyStopping = 20
	p.LearningRate = 0.1
	p.MinChildSamples = 5
	return p
}

func TestTimeSeriesSplitIsChronological(t *testing.T) {
	folds, err := TimeSeriesSplit(300, 5, 0, 20)
	require.NoError(t, err)
	require.Len(t, folds, 5)
	assert.Equal(t, Fold{TrainEnd: 50, ValStart: 50, ValEnd: 100}, folds[0])
	assert.Equal(t, 300, folds[4].ValEnd)
	for i := 1; i < len(folds); i++ {
		assert.Equal(t, folds[i-1].ValEnd, folds[i].ValStart)
	}
}

func TestTimeSeriesSplitPurgesHorizon(t *testing.T) {
	folds, err := TimeSeriesSplit(300, 5, 7, 20)
	require.NoError(t, err)
	for _, f := range folds {
		assert.Equal(t, 7, f.ValStart-f.TrainEnd)
	}
	assert.Equal(t, Fold{TrainEnd: 43, ValStart: 50, ValEnd: 100}, folds[0])

	// the gap comes out of the first training window
	_, err = TimeSeriesSplit(120, 5, 10, 20)
	assert.ErrorIs(t, err, models.ErrTrainingDataTooSmall)
}

func TestTimeSeriesSplitTooSmall(t *testing.T) {
	_, err := TimeSeriesSplit(60, 5, 0, 20)
	assert.ErrorIs(t, err, models.ErrTrainingDataTooSmall)
}

func TestFitBoosterLearnsSignal(t *testing.T) {
	X, y, _ := synthetic(400, 1)
	for _, growth := range []string{models.GrowthLeafWise, models.GrowthDepthWise} {
		m, err := FitBooster(context.Background(), fastParams(growth), X[:300], y[:300], X[300:], y[300:])
		require.NoError(t, err)
		assert.LessOrEqual(t, len(m.Trees), 150)
		assert.Equal(t, len(m.Trees), m.BestIteration)

		preds := make([]float64, 100)
		for i := range preds {
			preds[i] = PredictBooster(m, X[300+i])
		}
		assert.Less(t, rmse(y[300:], preds), rmse(y[300:], make([]float64, 100)), growth)
	}
}

func TestQuantileEdgesLowCardinality(t *testing.T) {
	col := make([]float64, 100)
	for i := range col {
		col[i] = 1
		if i < 30 {
			col[i] = -1
		}
	}
	assert.Equal(t, []float64{0}, quantileEdges(col))
	assert.Equal(t, []float64{-0.5, 0.5}, quantileEdges([]float64{-1, -1, 0, 0, 0, 0, 0, 1}))
	assert.Empty(t, quantileEdges([]float64{3, 3, 3}))
}

func TestQuantileEdgesSkipsPastTies(t *testing.T) {
	// 500 zeros swallow the first half of the quantiles
	col := make([]float64, 1000)
	for i := 500; i < len(col); i++ {
		col[i] = float64(i)
	}
	edges := quantileEdges(col)
	require.NotEmpty(t, edges)
	assert.Equal(t, 250.0, edges[0])
	assert.Less(t, len(edges), maxBins)
	for i := 1; i < len(edges); i++ {
		assert.Greater(t, edges[i], edges[i-1])
	}
}

func TestFitBoosterSplitsBinaryFeature(t *testing.T) {
	X := make([][]float64, 100)
	y := make([]float64, 100)
	for i := range X {
		x := 1.0
		if i%10 < 3 {
			x = -1
		}
		X[i] = []float64{x}
		y[i] = 0.05 * x
	}
	for _, growth := range []string{models.GrowthLeafWise, models.GrowthDepthWise} {
		p := fastParams(growth)
		p.MinSplitGain = 0
		m, err := FitBooster(context.Background(), p, X, y, nil, nil)
		require.NoError(t, err)
		low, high := PredictBooster(m, []float64{-1}), PredictBooster(m, []float64{1})
		assert.Greater(t, high-low, 0.05, growth)
	}
}

func TestGrowTreeRespectsLeafLimit(t *testing.T) {
	X, y, _ := synthetic(200, 2)
	b := newBinner(X)
	bins := b.transform(X)
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	tree := growTree(bins, b, y, idx, []int{0, 1, 2, 3, 4}, treeParams{growth: models.GrowthLeafWise, numLeaves: 6, minChildSamples: 5})
	leaves := 0
	for _, n := range tree.Nodes {
		if n.Feature < 0 {
			leaves++
		}
	}
	assert.LessOrEqual(t, leaves, 6)
	assert.Greater(t, leaves, 1)
}

func TestFitRidgeRecoversCoefficients(t *testing.T) {
	X, y, _ := synthetic(500, 3)
	m, err := FitRidge(X, y, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, m.Coef[0], 0.002)
	assert.InDelta(t, -0.01, m.Coef[1], 0.002)
	assert.InDelta(t, 0.0, m.Coef[4], 0.002)
}

func TestRidgeFoldFitUsesTrainingRowStats(t *testing.T) {
	X, y, _ := synthetic(200, 6)
	shifted := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = 1000*v + 50
		}
		shifted[i] = r
	}

	fit := ridgeFit(1)
	a, _, err := fit(context.Background(), X[:150], y[:150], nil, nil)
	require.NoError(t, err)
	b, _, err := fit(context.Background(), shifted[:150], y[:150], nil, nil)
	require.NoError(t, err)
	for i := 150; i < 200; i++ {
		assert.InDelta(t, a(X[i]), b(shifted[i]), 1e-9)
	}
}

func TestEvaluatePerfectPrediction(t *testing.T) {
	y := []float64{0.01, -0.02, 0.03}
	s := evaluate(y, y, []float64{10, 20, 30})
	assert.Equal(t, 0.0, s.mae)
	assert.Equal(t, 0.0, s.mape)
	assert.InDelta(t, 1.0, s.r2, 1e-12)
}

func TestTrainerBuildsEnsemble(t *testing.T) {
	X, y, base := synthetic(360, 4)
	cfg := DefaultConfig()
	cfg.Candidates = []models.BoosterParams{fastParams(models.GrowthLeafWise), func() models.BoosterParams {
		p := fastParams(models.GrowthLeafWise)
		p.NumLeaves = 4
		return p
	}()}
	cfg.DepthWise = fastParams(models.GrowthDepthWise)

	tr := NewTrainer(cfg)
	m, err := tr.Train(context.Background(), "ABC", 7, []string{"a", "b", "c", "d", "e"}, X, y, base)
	require.NoError(t, err)

	require.Len(t, m.Members, 3)
	sum := 0.0
	for _, mem := range m.Members {
		sum += mem.Weight
		assert.Equal(t, 5, mem.Metrics.Folds)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.35, m.Members[0].Weight, 1e-9)
	assert.Greater(t, m.Metrics.R2, 0.5)
	assert.Equal(t, models.GrowthLeafWise, m.Selected.Growth)
	assert.Equal(t, 360, m.DataPoints)

	pred, err := Predict(m, X[0], 100)
	require.NoError(t, err)
	assert.InDelta(t, 100*(1+pred.Return), pred.Price, 1e-9)
	assert.Len(t, pred.MemberPrices, 3)
	assert.GreaterOrEqual(t, pred.Agreement, 0.0)
	assert.LessOrEqual(t, pred.Agreement, 100.0)

	// round trip through JSON must predict the same value
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var back models.TrainedModel
	require.NoError(t, json.Unmarshal(raw, &back))
	again, err := Predict(&back, X[0], 100)
	require.NoError(t, err)
	assert.InDelta(t, pred.Return, again.Return, 1e-12)
}

func TestTrainerTooLittleData(t *testing.T) {
	X, y, base := synthetic(50, 5)
	_, err := NewTrainer(DefaultConfig()).Train(context.Background(), "ABC", 7, nil, X, y, base)
	assert.ErrorIs(t, err, models.ErrTrainingDataTooSmall)
}

func TestPredictRequiresModel(t *testing.T) {
	_, err := Predict(nil, []float64{1}, 10)
	assert.ErrorIs(t, err, models.ErrMissingModel)
}

func TestAgreement(t *testing.T) {
	assert.Equal(t, 100.0, agreement([]float64{10, 10, 10}))
	assert.Equal(t, 100.0, agreement([]float64{10}))
	assert.InDelta(t, 90.0, agreement([]float64{9.5, 10, 10.5}), 1e-9)
	assert.Equal(t, 0.0, agreement([]float64{1, 100}))
	assert.False(t, math.IsNaN(agreement([]float64{0, 0})))
}
