package features

import (
	"fmt"

	"StockSense/internal/domain/models"
)

var (
	smaWindows = []int{3, 5, 10, 20, 50, 100}
	lookbacks  = []int{3, 5, 10, 20}
	rsiPeriods = []int{5, 14}
)

// Warmup is the number of leading bars skipped so every lookback feature is
// computed over real history.
const Warmup = 20

// DefaultMinHistory is the minimum number of bars required to derive features.
const DefaultMinHistory = 100

// Feature names shared with the indicators snapshot.
const (
	FeatureRSI14       = "rsi_14"
	FeatureRSI5        = "rsi_5"
	FeatureVol20       = "volatility_20"
	FeatureMACDHist    = "macd_hist"
	FeatureVolumeRatio = "volume_ratio"
	FeatureDailyReturn = "daily_return"
)

// Engine derives the fixed-width feature table from a cleaned price series.
type Engine struct {
	minHistory int
	names      []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinHistory overrides the minimum series length.
func WithMinHistory(n int) Option {
	return func(e *Engine) {
		if n > Warmup {
			e.minHistory = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{minHistory: DefaultMinHistory}
	for _, opt := range opts {
		opt(e)
	}
	e.names = featureNames()
	return e
}

// MinHistory returns the configured minimum series length.
func (e *Engine) MinHistory() int { return e.minHistory }

// Names returns the feature column order.
func (e *Engine) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

func featureNames() []string {
	var names []string
	for _, w := range smaWindows {
		names = append(names, fmt.Sprintf("sma_%d", w))
	}
	for _, w := range smaWindows {
		names = append(names, fmt.Sprintf("price_sma_%d_ratio", w))
	}
	for _, k := range lookbacks {
		names = append(names, fmt.Sprintf("momentum_%d", k))
	}
	for _, k := range lookbacks {
		names = append(names, fmt.Sprintf("roc_%d", k))
	}
	for _, p := range rsiPeriods {
		names = append(names, fmt.Sprintf("rsi_%d", p))
	}
	names = append(names, "macd", "macd_signal", FeatureMACDHist, "volatility_5", FeatureVol20)
	for i := 1; i < len(smaWindows); i++ {
		names = append(names, fmt.Sprintf("sma_cross_%d_%d", smaWindows[i-1], smaWindows[i]))
	}
	names = append(names, "sma_cross_5_20", "trend_flag", FeatureVolumeRatio, "volume_intensity", FeatureDailyReturn)
	return names
}

// Build derives one feature row per bar after the warm-up window. Rows holding
// a non-finite value are dropped. bars must already be cleaned and ordered.
func (e *Engine) Build(bars []models.PriceBar) (*models.FeatureTable, error) {
	if len(bars) < e.minHistory {
		return nil, fmt.Errorf("features: %d bars, need %d: %w", len(bars), e.minHistory, models.ErrInsufficientHistory)
	}

	closes := models.Closes(bars)
	volumes := models.Volumes(bars)
	returns := DailyReturns(closes)

	cols := make(map[string][]float64, len(e.names))
	sma := make(map[int][]float64, len(smaWindows))
	for _, w := range smaWindows {
		s := RollingMean(closes, w)
		sma[w] = s
		cols[fmt.Sprintf("sma_%d", w)] = s
		ratio := make([]float64, len(closes))
		for i := range closes {
			ratio[i] = closes[i] / (s[i] + Epsilon)
		}
		cols[fmt.Sprintf("price_sma_%d_ratio", w)] = ratio
	}
	for _, k := range lookbacks {
		cols[fmt.Sprintf("momentum_%d", k)] = Momentum(closes, k)
		cols[fmt.Sprintf("roc_%d", k)] = ROC(closes, k)
	}
	for _, p := range rsiPeriods {
		cols[fmt.Sprintf("rsi_%d", p)] = RSI(closes, p)
	}
	line, signal, hist := MACD(closes)
	cols["macd"], cols["macd_signal"], cols[FeatureMACDHist] = line, signal, hist

	vol5 := RollingStd(returns, 5)
	vol20 := RollingStd(returns, 20)
	cols["volatility_5"], cols[FeatureVol20] = vol5, vol20

	for i := 1; i < len(smaWindows); i++ {
		fast, slow := smaWindows[i-1], smaWindows[i]
		cols[fmt.Sprintf("sma_cross_%d_%d", fast, slow)] = crossSign(sma[fast], sma[slow])
	}
	cols["sma_cross_5_20"] = crossSign(sma[5], sma[20])
	cols["trend_flag"] = crossSign(sma[20], sma[100])

	volSMA := RollingMean(volumes, 20)
	ratio := make([]float64, len(volumes))
	intensity := make([]float64, len(volumes))
	for i := range volumes {
		ratio[i] = volumes[i] / (volSMA[i] + Epsilon)
		intensity[i] = (ratio[i] - 1) * vol20[i]
	}
	cols[FeatureVolumeRatio] = ratio
	cols["volume_intensity"] = intensity
	cols[FeatureDailyReturn] = returns

	table := &models.FeatureTable{Names: e.Names()}
	for i := Warmup; i < len(bars); i++ {
		row := make([]float64, len(e.names))
		ok := true
		for j, name := range e.names {
			v := cols[name][i]
			if !finite(v) {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		table.Rows = append(table.Rows, row)
		table.Dates = append(table.Dates, bars[i].Date)
		table.Closes = append(table.Closes, closes[i])
		table.Index = append(table.Index, i)
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("features: all %d rows dropped: %w", len(bars)-Warmup, models.ErrEmptyFeatureSet)
	}
	return table, nil
}

func crossSign(fast, slow []float64) []float64 {
	out := make([]float64, len(fast))
	for i := range fast {
		out[i] = sign(fast[i] - slow[i])
	}
	return out
}

// Snapshot builds the reported indicator record from the last row of a table.
func Snapshot(t *models.FeatureTable, regime models.MarketRegime) models.TechnicalIndicators {
	last := t.Len() - 1
	if last < 0 {
		return models.TechnicalIndicators{MarketRegime: regime}
	}
	return models.TechnicalIndicators{
		RSI14:         t.Value(last, FeatureRSI14),
		RSI5:          t.Value(last, FeatureRSI5),
		VolatilityPct: t.Value(last, FeatureVol20) * 100,
		MACDHist:      t.Value(last, FeatureMACDHist),
		SMACross5_20:  t.Value(last, "sma_cross_5_20"),
		VolumeRatio:   t.Value(last, FeatureVolumeRatio),
		MarketRegime:  regime,
		Extra: map[string]float64{
			"momentum_5":       t.Value(last, "momentum_5"),
			"roc_10":           t.Value(last, "roc_10"),
			"price_sma_20":     t.Value(last, "price_sma_20_ratio"),
			"volume_intensity": t.Value(last, "volume_intensity"),
			"trend_flag":       t.Value(last, "trend_flag"),
		},
	}
}
