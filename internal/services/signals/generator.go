package signals

import (
	"fmt"
	"math"
	"strings"

	"StockSense/internal/domain/models"
	"StockSense/internal/services/calibration"
)

// Policy constants.
const (
	baseThreshold  = 1.2
	volSensitivity = 0.4
	baseGate       = 40.0
	minGate        = 35.0
	strongConf     = 60.0
	overbought     = 70.0
	oversold       = 30.0
	rsiDampening   = 0.75
	strongBonus    = 5.0
	highVolatility = 3.0
)

// Input is the state a decision is made from.
type Input struct {
	// ReturnPct is the predicted horizon return in percent.
	ReturnPct  float64
	Confidence float64
	RSI        float64
	// Volatility is the daily return standard deviation as a fraction.
	Volatility float64
	Regime     models.MarketRegime
}

// Decision is the generated signal with its adjusted confidence.
type Decision struct {
	Signal     models.Signal
	Confidence float64
	Reasoning  string
	Threshold  float64
	Gate       float64
}

// Threshold returns the return (percent) a prediction must exceed to act on.
// It widens with volatility.
func Threshold(volatility float64) float64 {
	if math.IsNaN(volatility) || volatility < 0 {
		volatility = 0
	}
	return baseThreshold + volSensitivity*volatility*100
}

// Gate returns the minimum confidence for a non-HOLD signal. It falls
// linearly from 40 at the threshold to 35 at twice the threshold.
func Gate(returnPct, threshold float64) float64 {
	if threshold <= 0 {
		return baseGate
	}
	excess := math.Abs(returnPct) / threshold
	switch {
	case excess <= 1:
		return baseGate
	case excess >= 2:
		return minGate
	}
	return baseGate - (baseGate-minGate)*(excess-1)
}

// Generate applies the decision policy. It is a pure function of its input.
func Generate(in Input) Decision {
	thr := Threshold(in.Volatility)
	gate := Gate(in.ReturnPct, thr)
	conf := calibration.Clamp(in.Confidence)
	ret := in.ReturnPct
	if math.IsNaN(ret) {
		ret = 0
	}
	rsi := in.RSI
	if math.IsNaN(rsi) {
		rsi = 50
	}

	d := Decision{Signal: models.SignalHold, Confidence: conf, Threshold: thr, Gate: gate}
	var reasons []string
	strong := math.Abs(ret) >= 2*thr && conf >= strongConf

	switch {
	case ret > thr && conf < gate:
		reasons = append(reasons, fmt.Sprintf("Weak bullish %+.2f%%: confidence %.0f%% below %.0f%% gate", ret, conf, gate))
	case ret < -thr && conf < gate:
		reasons = append(reasons, fmt.Sprintf("Weak bearish %+.2f%%: confidence %.0f%% below %.0f%% gate", ret, conf, gate))
	case ret > thr:
		reasons = append(reasons, fmt.Sprintf("Upward: %+.2f%% | Conf: %.0f%%", ret, conf))
		switch {
		case rsi >= overbought && strong:
			d.Signal = models.SignalBuy
			d.Confidence = conf * rsiDampening
			reasons = append(reasons, "STRONG BULLISH", fmt.Sprintf("RSI overbought (%.1f) dampens conviction", rsi))
		case rsi >= overbought:
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f), upside not confirmed", rsi))
		case strong:
			d.Signal = models.SignalBuy
			d.Confidence = conf + strongBonus
			reasons = append(reasons, "STRONG BULLISH")
		default:
			d.Signal = models.SignalBuy
		}
	case ret < -thr:
		reasons = append(reasons, fmt.Sprintf("Downward: %+.2f%% | Conf: %.0f%%", ret, conf))
		switch {
		case rsi <= oversold && strong:
			d.Signal = models.SignalSell
			d.Confidence = conf * rsiDampening
			reasons = append(reasons, "STRONG BEARISH", fmt.Sprintf("RSI oversold (%.1f) dampens conviction", rsi))
		case rsi <= oversold:
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f), downside not confirmed", rsi))
		case strong:
			d.Signal = models.SignalSell
			d.Confidence = conf + strongBonus
			reasons = append(reasons, "STRONG BEARISH")
		default:
			d.Signal = models.SignalSell
		}
	default:
		reasons = append(reasons, fmt.Sprintf("Neutral: %+.2f%% within ±%.2f%% band", ret, thr))
		switch {
		case rsi >= overbought:
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f) dampens upside", rsi))
		case rsi <= oversold:
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f) dampens downside", rsi))
		}
		switch in.Regime {
		case models.RegimeBull:
			reasons = append(reasons, "Bull regime - wait for dips")
		case models.RegimeBear:
			reasons = append(reasons, "Bear regime - wait for bounces")
		}
	}

	if volPct := in.Volatility * 100; volPct > highVolatility {
		reasons = append(reasons, fmt.Sprintf("High volatility %.1f%% widens threshold to %.2f%%", volPct, thr))
	}

	d.Confidence = calibration.Clamp(d.Confidence)
	d.Reasoning = strings.Join(reasons, " | ")
	return d
}
