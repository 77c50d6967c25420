package regime

import (
	"context"

	"StockSense/internal/domain/models"
	domsvc "StockSense/internal/domain/service"
	"StockSense/internal/services/features"
)

const (
	// DefaultWindow is one trading year.
	DefaultWindow = 252
	// DefaultBand is the annual return beyond which the market trends.
	DefaultBand = 0.10
)

// Detector classifies the trailing regime from the return over Window bars.
type Detector struct {
	window int
	band   float64
}

func NewDetector(window int, band float64) *Detector {
	if window <= 1 {
		window = DefaultWindow
	}
	if band <= 0 {
		band = DefaultBand
	}
	return &Detector{window: window, band: band}
}

// Detect returns Bull above +band, Bear below -band and Sideways otherwise.
// Series shorter than the window use their full length.
func (d *Detector) Detect(_ context.Context, _ string, closes []float64) (models.RegimeState, error) {
	st := models.RegimeState{Regime: models.RegimeSideways}
	if len(closes) < 2 {
		return st, nil
	}
	start := len(closes) - 1 - d.window
	if start < 0 {
		start = 0
	}
	first, last := closes[start], closes[len(closes)-1]
	if first > 0 {
		st.AnnualReturn = last/first - 1
	}
	lr := features.LogReturns(closes[start:])
	st.AnnualVol = features.AnnualizedVolatility(lr, len(lr))

	switch {
	case st.AnnualReturn > d.band:
		st.Regime = models.RegimeBull
	case st.AnnualReturn < -d.band:
		st.Regime = models.RegimeBear
	}
	return st, nil
}

var _ domsvc.RegimeDetector = (*Detector)(nil)
