package preprocess

import (
	"fmt"
	"math"
	"sort"

	"StockSense/internal/domain/models"
)

// Validator cleans raw price series before feature derivation.
type Validator struct {
	minHistory int
}

func NewValidator(minHistory int) *Validator {
	if minHistory <= 0 {
		minHistory = 100
	}
	return &Validator{minHistory: minHistory}
}

// Clean orders bars by date, keeps the last bar for each date and drops bars
// whose close is not a positive finite number. The input slice is not modified.
func (v *Validator) Clean(ticker string, bars []models.PriceBar) ([]models.PriceBar, error) {
	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	// stable so later duplicates stay after earlier ones
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := make([]models.PriceBar, 0, len(sorted))
	for _, b := range sorted {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			continue
		}
		if math.IsNaN(b.Volume) || b.Volume < 0 {
			b.Volume = 0
		}
		if n := len(out); n > 0 && out[n-1].Date.Equal(b.Date) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}

	if len(out) < v.minHistory {
		return nil, fmt.Errorf("%s: %d clean bars, need %d: %w", ticker, len(out), v.minHistory, models.ErrInsufficientData)
	}
	return out, nil
}
