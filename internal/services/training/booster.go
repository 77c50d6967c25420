package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"StockSense/internal/domain/models"
)

// DefaultLeafWise is the primary boosted-tree configuration.
func DefaultLeafWise() models.BoosterParams {
	return models.BoosterParams{
		Growth:          models.GrowthLeafWise,
		NumLeaves:       50,
		MaxDepth:        8,
		LearningRate:    0.03,
		FeatureFraction: 0.85,
		L1:              0.1,
		L2:              0.1,
		MinSplitGain:    0.01,
		MinChildSamples: 20,
		Rounds:          1000,
		EarlyStopping:   100,
		Seed:            42,
	}
}

// DefaultDepthWise is the level-wise companion configuration.
func DefaultDepthWise() models.BoosterParams {
	return models.BoosterParams{
		Growth:          models.GrowthDepthWise,
		NumLeaves:       64,
		MaxDepth:        6,
		LearningRate:    0.03,
		FeatureFraction: 0.8,
		L1:              0.1,
		L2:              1.0,
		MinSplitGain:    0,
		MinChildSamples: 10,
		Rounds:          1000,
		EarlyStopping:   100,
		Seed:            7,
	}
}

// FitBooster trains a gradient-boosted tree regressor with squared loss. When
// validation data is given, training stops after EarlyStopping rounds without
// validation RMSE improvement and the model is truncated to its best iteration.
func FitBooster(ctx context.Context, p models.BoosterParams, X [][]float64, y []float64, Xval [][]float64, yval []float64) (*models.BoosterModel, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("booster: %d rows, %d targets", len(X), len(y))
	}
	if p.Rounds <= 0 {
		p.Rounds = 1
	}
	tp := treeParams{
		growth:          p.Growth,
		numLeaves:       maxInt(p.NumLeaves, 2),
		maxDepth:        p.MaxDepth,
		l1:              p.L1,
		l2:              p.L2,
		minSplitGain:    p.MinSplitGain,
		minChildSamples: maxInt(p.MinChildSamples, 1),
	}

	b := newBinner(X)
	bins := b.transform(X)
	nf := len(X[0])
	rng := rand.New(rand.NewSource(p.Seed))

	base := mean(y)
	m := &models.BoosterModel{Params: p, BaseScore: base}
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = base
	}
	valPred := make([]float64, len(yval))
	for i := range valPred {
		valPred[i] = base
	}

	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	grad := make([]float64, len(y))
	useVal := len(Xval) > 0 && len(Xval) == len(yval)
	bestScore, bestIter := math.Inf(1), 0

	for round := 0; round < p.Rounds; round++ {
		if round%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range y {
			grad[i] = pred[i] - y[i]
		}
		tree := growTree(bins, b, grad, idx, sampleFeatures(rng, nf, p.FeatureFraction), tp)
		for i := range tree.Nodes {
			tree.Nodes[i].Value *= p.LearningRate
		}
		m.Trees = append(m.Trees, tree)
		for i, row := range X {
			pred[i] += predictTree(&tree, row)
		}

		if !useVal {
			continue
		}
		for i, row := range Xval {
			valPred[i] += predictTree(&tree, row)
		}
		score := rmse(yval, valPred)
		if score < bestScore-1e-12 {
			bestScore, bestIter = score, round+1
		} else if p.EarlyStopping > 0 && round+1-bestIter >= p.EarlyStopping {
			break
		}
	}

	if useVal && bestIter > 0 {
		m.Trees = m.Trees[:bestIter]
		m.BestIteration = bestIter
	} else {
		m.BestIteration = len(m.Trees)
	}
	return m, nil
}

// PredictBooster evaluates a fitted booster on one scaled feature row.
func PredictBooster(m *models.BoosterModel, x []float64) float64 {
	out := m.BaseScore
	for i := range m.Trees {
		out += predictTree(&m.Trees[i], x)
	}
	return out
}

// sampleFeatures draws ceil(fraction*n) distinct feature indices in order.
func sampleFeatures(rng *rand.Rand, n int, fraction float64) []int {
	k := n
	if fraction > 0 && fraction < 1 {
		k = int(math.Ceil(fraction * float64(n)))
	}
	perm := rng.Perm(n)[:k]
	sort.Ints(perm)
	return perm
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
