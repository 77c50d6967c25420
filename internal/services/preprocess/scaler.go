package preprocess

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"StockSense/internal/domain/models"
)

// minStd replaces degenerate standard deviations so constant features scale to 0.
const minStd = 1e-10

// FitScaler computes per-feature mean and standard deviation over the table.
func FitScaler(ticker string, t *models.FeatureTable) (*models.ScalerState, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("%s: fit scaler: %w", ticker, models.ErrEmptyFeatureSet)
	}
	state := &models.ScalerState{
		Ticker:   ticker,
		Features: append([]string(nil), t.Names...),
		Stats:    make(map[string]models.FeatureStat, len(t.Names)),
		Samples:  t.Len(),
		FittedAt: time.Now().UTC(),
	}
	col := make([]float64, t.Len())
	for j, name := range t.Names {
		for i, row := range t.Rows {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std < minStd {
			std = 1
		}
		state.Stats[name] = models.FeatureStat{Mean: mean, Std: std}
	}
	return state, nil
}

// Transform applies a fitted scaler to every row of t and returns the scaled
// matrix. The scaler is never refitted; a nil scaler means the ticker has not
// been trained.
func Transform(state *models.ScalerState, t *models.FeatureTable) ([][]float64, error) {
	if state == nil {
		return nil, models.ErrMissingScaler
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%s: transform: %w", state.Ticker, models.ErrEmptyFeatureSet)
	}
	stats := make([]models.FeatureStat, len(t.Names))
	for j, name := range t.Names {
		s, ok := state.Stats[name]
		if !ok {
			return nil, fmt.Errorf("%s: scaler has no feature %q", state.Ticker, name)
		}
		stats[j] = s
	}
	if len(state.Stats) != len(t.Names) {
		return nil, fmt.Errorf("%s: scaler has %d features, table has %d", state.Ticker, len(state.Stats), len(t.Names))
	}

	out := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - stats[j].Mean) / stats[j].Std
		}
		out[i] = scaled
	}
	return out, nil
}
