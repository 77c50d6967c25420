package usecase

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"StockSense/internal/domain/models"
)

// summarize fills the signal buckets, counts and statistics of a batch from
// its Results. total is the number of tickers attempted.
func summarize(b *models.BatchPrediction, total int) {
	b.Predictions = models.SignalBuckets{
		Buy:  []models.PredictionResult{},
		Hold: []models.PredictionResult{},
		Sell: []models.PredictionResult{},
	}
	for _, r := range b.Results {
		switch r.Signal {
		case models.SignalBuy:
			b.Predictions.Buy = append(b.Predictions.Buy, r)
		case models.SignalSell:
			b.Predictions.Sell = append(b.Predictions.Sell, r)
		default:
			b.Predictions.Hold = append(b.Predictions.Hold, r)
		}
	}
	for _, bucket := range [][]models.PredictionResult{b.Predictions.Buy, b.Predictions.Hold, b.Predictions.Sell} {
		sortByConfidence(bucket)
	}

	b.Summary = models.BatchSummary{
		TotalStocks: total,
		Buy:         len(b.Predictions.Buy),
		Hold:        len(b.Predictions.Hold),
		Sell:        len(b.Predictions.Sell),
		Errors:      total - len(b.Results),
	}
	if total > 0 {
		b.Summary.SuccessRate = math.Round(float64(len(b.Results))/float64(total)*10000) / 100
	}

	if len(b.Results) == 0 {
		b.Statistics = nil
		return
	}
	conf := make([]float64, len(b.Results))
	rets := make([]float64, len(b.Results))
	agree := make([]float64, len(b.Results))
	for i, r := range b.Results {
		conf[i] = r.Confidence
		rets[i] = r.PredictedReturn
		agree[i] = r.EnsembleAgreement
	}
	confStat := describe(conf)
	_, confStat.Std = stat.PopMeanStdDev(conf, nil)
	b.Statistics = &models.BatchStatistics{
		Confidence:        confStat,
		PredictedReturns:  describe(rets),
		EnsembleAgreement: describe(agree),
	}
}

func describe(xs []float64) models.Stat {
	s := models.Stat{Mean: stat.Mean(xs, nil), Min: xs[0], Max: xs[0]}
	for _, x := range xs[1:] {
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	return s
}

// sortByConfidence orders by confidence descending, ticker ascending on ties.
func sortByConfidence(rs []models.PredictionResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Confidence != rs[j].Confidence {
			return rs[i].Confidence > rs[j].Confidence
		}
		return rs[i].Ticker < rs[j].Ticker
	})
}
