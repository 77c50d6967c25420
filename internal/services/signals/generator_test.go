package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"StockSense/internal/domain/models"
	"StockSense/internal/services/calibration"
)

func TestScenarioABuy(t *testing.T) {
	conf := calibration.Confidence(calibration.Input{R2: 0.25, MAPE: 8, Volatility: 0.02, PredictedReturn: 0.03, HorizonDays: 7})
	d := Generate(Input{ReturnPct: 3, Confidence: conf, RSI: 55, Volatility: 0.02})

	assert.Equal(t, models.SignalBuy, d.Signal)
	assert.InDelta(t, 2.0, d.Threshold, 1e-9)
	assert.InDelta(t, 37.5, d.Gate, 1e-9)
	assert.Equal(t, conf, d.Confidence)
	assert.Contains(t, d.Reasoning, "Upward")
}

func TestScenarioBHold(t *testing.T) {
	conf := calibration.Confidence(calibration.Input{R2: -0.3, MAPE: 30, Volatility: 0.06, HorizonDays: 7})
	for _, ret := range []float64{-20, -5, 0, 5, 20} {
		d := Generate(Input{ReturnPct: ret, Confidence: conf, RSI: 50, Volatility: 0.06})
		assert.Equal(t, models.SignalHold, d.Signal, "return %v", ret)
	}
}

func TestScenarioCOverbought(t *testing.T) {
	d := Generate(Input{ReturnPct: 0.5, Confidence: 55, RSI: 75, Volatility: 0.01})
	assert.Equal(t, models.SignalHold, d.Signal)
	assert.Contains(t, d.Reasoning, "RSI overbought")
}

func TestOverboughtDampensButDoesNotVeto(t *testing.T) {
	// threshold 1.6, strong move at >= 3.2 with confidence >= 60
	strong := Generate(Input{ReturnPct: 5, Confidence: 80, RSI: 78, Volatility: 0.01})
	assert.Equal(t, models.SignalBuy, strong.Signal)
	assert.InDelta(t, 60, strong.Confidence, 1e-9)
	assert.Contains(t, strong.Reasoning, "dampens conviction")

	weak := Generate(Input{ReturnPct: 2, Confidence: 80, RSI: 78, Volatility: 0.01})
	assert.Equal(t, models.SignalHold, weak.Signal)
}

func TestOversoldMirrorsForSell(t *testing.T) {
	strong := Generate(Input{ReturnPct: -5, Confidence: 80, RSI: 20, Volatility: 0.01})
	assert.Equal(t, models.SignalSell, strong.Signal)
	assert.InDelta(t, 60, strong.Confidence, 1e-9)

	weak := Generate(Input{ReturnPct: -2, Confidence: 80, RSI: 20, Volatility: 0.01})
	assert.Equal(t, models.SignalHold, weak.Signal)
	assert.Contains(t, weak.Reasoning, "RSI oversold")

	plain := Generate(Input{ReturnPct: -2, Confidence: 50, RSI: 50, Volatility: 0.01})
	assert.Equal(t, models.SignalSell, plain.Signal)
}

func TestStrongBuyBonusIsClamped(t *testing.T) {
	d := Generate(Input{ReturnPct: 10, Confidence: 93, RSI: 50, Volatility: 0.01})
	assert.Equal(t, models.SignalBuy, d.Signal)
	assert.Equal(t, calibration.MaxConfidence, d.Confidence)
	assert.Contains(t, d.Reasoning, "STRONG BULLISH")
}

func TestAdaptiveGate(t *testing.T) {
	assert.Equal(t, 40.0, Gate(1, 2))
	assert.Equal(t, 40.0, Gate(2, 2))
	assert.InDelta(t, 37.5, Gate(-3, 2), 1e-9)
	assert.Equal(t, 35.0, Gate(4, 2))
	assert.Equal(t, 35.0, Gate(40, 2))

	// 38% confidence fails the gate for a marginal move but passes for a large one
	assert.Equal(t, models.SignalHold, Generate(Input{ReturnPct: 1.3, Confidence: 38, RSI: 50}).Signal)
	assert.Equal(t, models.SignalBuy, Generate(Input{ReturnPct: 2.6, Confidence: 38, RSI: 50}).Signal)
}

func TestThresholdScalesWithVolatility(t *testing.T) {
	assert.InDelta(t, 1.2, Threshold(0), 1e-12)
	assert.InDelta(t, 3.2, Threshold(0.05), 1e-12)

	d := Generate(Input{ReturnPct: 2.5, Confidence: 70, RSI: 50, Volatility: 0.05})
	assert.Equal(t, models.SignalHold, d.Signal)
	assert.Contains(t, d.Reasoning, "High volatility")
}

func TestReasoningAlwaysPresent(t *testing.T) {
	for _, in := range []Input{
		{},
		{ReturnPct: 0.1, Confidence: 90, Regime: models.RegimeBull},
		{ReturnPct: -9, Confidence: 20, RSI: 10},
	} {
		d := Generate(in)
		assert.NotEmpty(t, d.Reasoning)
		assert.GreaterOrEqual(t, d.Confidence, calibration.MinConfidence)
		assert.LessOrEqual(t, d.Confidence, calibration.MaxConfidence)
	}
}
