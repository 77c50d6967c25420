package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"

	"StockSense/internal/domain/models"
	"StockSense/pkg/util"
)

func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func predictionRow(r models.PredictionResult) []string {
	return []string{
		r.Ticker,
		string(r.Signal),
		fmt.Sprintf("%.0f%%", r.Confidence),
		fmt.Sprintf("%.2f", r.CurrentPrice),
		fmt.Sprintf("%.2f", r.PredictedPrice),
		fmt.Sprintf("%+.2f%%", r.PredictedReturn),
		fmt.Sprintf("%.2f", r.EnsembleAgreement),
		string(r.Technical.MarketRegime),
	}
}

var predictionHeader = []string{"Ticker", "Signal", "Conf", "Price", "Target", "Return", "Agree", "Regime"}

func renderPredictions(rs []models.PredictionResult) {
	table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader(predictionHeader))
	for _, r := range rs {
		table.Append(predictionRow(r))
	}
	table.Render()
}

func outputPrediction(r *models.PredictionResult) error {
	renderPredictions([]models.PredictionResult{*r})
	fmt.Printf("\nAs of %s, target date %s (%d trading days)\n",
		r.AsOfDate.Format(util.DateLayout), r.PredictionDate.Format(util.DateLayout), r.HorizonDays)
	fmt.Printf("  %s\n", r.Reasoning)
	fmt.Printf("  RSI(14): %.1f | Volatility: %.2f%% | Volume: %.1fx avg\n",
		r.Technical.RSI14, r.Technical.VolatilityPct, r.Technical.VolumeRatio)
	fmt.Printf("  Model v%d | R2: %.3f | MAPE: %.2f%%\n", r.ModelVersion, r.ModelMetrics.R2, r.ModelMetrics.MAPE)
	return nil
}

func outputBatch(b *models.BatchPrediction) error {
	if len(b.Results) == 0 {
		fmt.Println("No predictions produced.")
	} else {
		rs := append([]models.PredictionResult(nil), b.Results...)
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Confidence > rs[j].Confidence })
		renderPredictions(rs)
	}

	s := b.Summary
	fmt.Printf("\n%d stocks | BUY %d | HOLD %d | SELL %d | errors %d | success %.0f%%\n",
		s.TotalStocks, s.Buy, s.Hold, s.Sell, s.Errors, s.SuccessRate)
	if b.Statistics != nil {
		fmt.Printf("Confidence mean %.1f (min %.1f, max %.1f) | return mean %+.2f%%\n",
			b.Statistics.Confidence.Mean, b.Statistics.Confidence.Min, b.Statistics.Confidence.Max,
			b.Statistics.PredictedReturns.Mean)
	}
	outputErrors(b.Errors)
	return nil
}

func outputRecommendations(r *models.Recommendations) error {
	fmt.Printf("Top %d BUY\n", r.TopN)
	if len(r.TopBuys) == 0 {
		fmt.Println("  none")
	} else {
		renderPredictions(r.TopBuys)
	}
	fmt.Printf("\nTop %d SELL\n", r.TopN)
	if len(r.TopSells) == 0 {
		fmt.Println("  none")
	} else {
		renderPredictions(r.TopSells)
	}
	outputErrors(r.Errors)
	return nil
}

func outputTrainReport(r *models.TrainReport) error {
	fmt.Printf("Trained %d models (%d features, horizon %d days) in %dms\n",
		len(r.Trained), r.Features, r.HorizonDays, r.DurationMS)
	if len(r.Trained) > 0 {
		fmt.Printf("  %v\n", r.Trained)
	}
	outputErrors(r.Errors)
	return nil
}

func outputModels(info *models.ModelInfo) error {
	if len(info.Models) == 0 {
		fmt.Println("No models published.")
		return nil
	}
	tickers := make([]string, 0, len(info.Models))
	for t := range info.Models {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Version", "R2", "MAE", "MAPE", "Points", "Trained"}),
	)
	for _, t := range tickers {
		m := info.Models[t]
		table.Append([]string{
			t,
			fmt.Sprintf("%d", m.Version),
			fmt.Sprintf("%.3f", m.Metrics.R2),
			fmt.Sprintf("%.4f", m.Metrics.MAE),
			fmt.Sprintf("%.2f%%", m.Metrics.MAPE),
			fmt.Sprintf("%d", m.DataPoints),
			m.TrainedAt.Format(util.DateLayout),
		})
	}
	table.Render()

	fmt.Printf("\n%d ensembles | %d features | %d-fold CV | horizon %d days\n",
		info.TotalEnsembles, info.FeatureCount, info.CVFolds, info.HorizonDays)
	if len(info.Missing) > 0 {
		fmt.Printf("Untrained: %v\n", info.Missing)
	}
	return nil
}

func outputErrors(errs map[string]string) {
	if len(errs) == 0 {
		return
	}
	tickers := make([]string, 0, len(errs))
	for t := range errs {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	fmt.Println("\nFailed:")
	for _, t := range tickers {
		fmt.Printf("  %s: %s\n", t, errs[t])
	}
}
