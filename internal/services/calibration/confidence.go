package calibration

import (
	"math"

	"StockSense/internal/domain/models"
)

// Confidence bounds.
const (
	MinConfidence = 25.0
	MaxConfidence = 95.0
)

// Input carries the fit and market measurements the confidence is derived from.
type Input struct {
	R2 float64
	// MAPE in percent.
	MAPE float64
	// Volatility is the daily return standard deviation as a fraction.
	Volatility float64
	// PredictedReturn is the horizon return as a fraction.
	PredictedReturn float64
	HorizonDays     int
	Regime          models.MarketRegime
}

// Breakdown records each additive term.
type Breakdown struct {
	Base       float64 `json:"base"`
	MAPE       float64 `json:"mape"`
	Volatility float64 `json:"volatility"`
	Magnitude  float64 `json:"magnitude"`
	Regime     float64 `json:"regime"`
	Confidence float64 `json:"confidence"`
}

// Confidence returns a score in [25, 95]. Non-finite inputs are treated as
// the worst case for that term.
func Confidence(in Input) float64 {
	return Explain(in).Confidence
}

// Explain computes the confidence and its additive components.
func Explain(in Input) Breakdown {
	var b Breakdown
	b.Base = r2Base(in.R2)
	b.MAPE = mapeAdjustment(in.MAPE)
	b.Volatility = volatilityPenalty(in.Volatility)
	b.Magnitude = magnitudePenalty(in.PredictedReturn, in.Volatility, in.HorizonDays)
	switch in.Regime {
	case models.RegimeBull:
		b.Regime = 3
	case models.RegimeBear:
		b.Regime = -2
	}
	b.Confidence = Clamp(b.Base + b.MAPE + b.Volatility + b.Magnitude + b.Regime)
	return b
}

// Clamp bounds a confidence to [MinConfidence, MaxConfidence].
func Clamp(c float64) float64 {
	if math.IsNaN(c) {
		return MinConfidence
	}
	return math.Max(MinConfidence, math.Min(MaxConfidence, c))
}

func r2Base(r2 float64) float64 {
	switch {
	case math.IsNaN(r2) || r2 < 0:
		return 35
	case r2 < 0.1:
		return 42
	case r2 < 0.2:
		return 48
	case r2 < 0.3:
		return 55
	case r2 < 0.4:
		return 62
	case r2 < 0.5:
		return 68
	}
	return math.Min(80, 72+16*(r2-0.5))
}

func mapeAdjustment(mape float64) float64 {
	switch {
	case math.IsNaN(mape) || mape < 0:
		return 0
	case mape < 2:
		return 20
	case mape < 5:
		return 15
	case mape < 10:
		return 10
	case mape > 25:
		return -10
	}
	return 0
}

func volatilityPenalty(vol float64) float64 {
	switch {
	case math.IsNaN(vol) || vol > 0.05:
		return -15
	case vol > 0.03:
		return -8
	case vol > 0.015:
		return -5
	case vol > 0.005:
		return -2
	}
	return 0
}

// magnitudePenalty lowers confidence when the predicted move is many
// horizon-scaled standard deviations away.
func magnitudePenalty(ret, vol float64, horizon int) float64 {
	if horizon < 1 {
		horizon = 1
	}
	if math.IsNaN(ret) || math.IsInf(ret, 0) {
		return -10
	}
	if vol <= 0 || math.IsNaN(vol) || math.IsInf(vol, 0) {
		return 0
	}
	ratio := math.Abs(ret) / (vol * math.Sqrt(float64(horizon)))
	switch {
	case ratio > 3:
		return -10
	case ratio > 2:
		return -5
	}
	return 0
}
