package training

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"StockSense/internal/domain/models"
)

// foldScore holds the metrics of one held-out fold.
type foldScore struct {
	mae, rmse, r2, mape float64
}

// evaluate scores predicted horizon returns against actual ones. MAE and RMSE
// are in return units, R² is on returns and MAPE (percent) is on the prices
// implied by basePrices.
func evaluate(actual, predicted, basePrices []float64) foldScore {
	var s foldScore
	n := float64(len(actual))
	if n == 0 {
		return s
	}
	var absSum, sqSum, pctSum float64
	pctN := 0
	for i := range actual {
		d := predicted[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
		ap := basePrices[i] * (1 + actual[i])
		pp := basePrices[i] * (1 + predicted[i])
		if ap != 0 {
			pctSum += math.Abs((ap - pp) / ap)
			pctN++
		}
	}
	s.mae = absSum / n
	s.rmse = math.Sqrt(sqSum / n)
	if pctN > 0 {
		s.mape = pctSum / float64(pctN) * 100
	}
	if stat.Variance(actual, nil) > 0 {
		s.r2 = stat.RSquaredFrom(predicted, actual, nil)
	}
	return s
}

// aggregate reduces fold scores to means and standard deviations.
func aggregate(folds []foldScore) models.FitMetrics {
	m := models.FitMetrics{Folds: len(folds)}
	if len(folds) == 0 {
		return m
	}
	pick := func(f func(foldScore) float64) (float64, float64) {
		xs := make([]float64, len(folds))
		for i, s := range folds {
			xs[i] = f(s)
		}
		if len(xs) == 1 {
			return xs[0], 0
		}
		return stat.MeanStdDev(xs, nil)
	}
	m.MAE, m.MAEStd = pick(func(s foldScore) float64 { return s.mae })
	m.RMSE, m.RMSEStd = pick(func(s foldScore) float64 { return s.rmse })
	m.R2, m.R2Std = pick(func(s foldScore) float64 { return s.r2 })
	m.MAPE, m.MAPEStd = pick(func(s foldScore) float64 { return s.mape })
	return m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func rmse(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	ss := 0.0
	for i := range actual {
		d := predicted[i] - actual[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(actual)))
}
