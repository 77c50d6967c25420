package features

import "math"

// Epsilon guards every denominator in feature derivation.
const Epsilon = 1e-10

// BarsPerYear annualises daily statistics.
const BarsPerYear = 252.0

// RollingMean is a trailing simple moving average with min-periods of 1: the
// first w-1 values average over the bars available so far. NaN inputs are
// skipped.
func RollingMean(xs []float64, w int) []float64 {
	out := make([]float64, len(xs))
	sum, n := 0.0, 0
	for i, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
		if i >= w {
			if old := xs[i-w]; !math.IsNaN(old) {
				sum -= old
				n--
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// RollingStd is the trailing sample standard deviation over w values with
// min-periods of 2. NaN inputs are skipped; fewer than two values yield NaN.
func RollingStd(xs []float64, w int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		start := i - w + 1
		if start < 0 {
			start = 0
		}
		sum, n := 0.0, 0
		for _, x := range xs[start : i+1] {
			if !math.IsNaN(x) {
				sum += x
				n++
			}
		}
		if n < 2 {
			out[i] = math.NaN()
			continue
		}
		mean := sum / float64(n)
		ss := 0.0
		for _, x := range xs[start : i+1] {
			if !math.IsNaN(x) {
				ss += (x - mean) * (x - mean)
			}
		}
		out[i] = math.Sqrt(ss / float64(n-1))
	}
	return out
}

// DailyReturns computes simple returns C_t / C_{t-1} - 1 aligned with closes;
// the first element is NaN.
func DailyReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		out[i] = closes[i]/(closes[i-1]+Epsilon) - 1
	}
	return out
}

// LogReturns returns ln(C_t / C_{t-1}) for each consecutive pair, one shorter
// than closes. A pair with a non-positive price contributes 0.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := range out {
		if prev, cur := closes[i], closes[i+1]; prev > 0 && cur > 0 {
			out[i] = math.Log(cur / prev)
		}
	}
	return out
}

// AnnualizedVolatility is the sample standard deviation of the last window
// returns scaled by sqrt(BarsPerYear). Too few returns yield 0.
func AnnualizedVolatility(returns []float64, window int) float64 {
	if window < 2 || len(returns) < window {
		return 0
	}
	sd := RollingStd(returns[len(returns)-window:], window)
	last := sd[window-1]
	if math.IsNaN(last) {
		return 0
	}
	return last * math.Sqrt(BarsPerYear)
}

// EMA is the recursive exponential moving average with alpha = 2/(span+1),
// seeded with the first value.
func EMA(xs []float64, span int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing. Until p
// deltas are available the averages are plain means of what exists. When both
// averages are zero (a flat series) RSI is 50.
func RSI(closes []float64, p int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	out[0] = 50
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := math.Max(d, 0), math.Max(-d, 0)
		if i <= p {
			k := float64(i)
			avgGain += (gain - avgGain) / k
			avgLoss += (loss - avgLoss) / k
		} else {
			avgGain = (avgGain*float64(p-1) + gain) / float64(p)
			avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
		}
		if avgGain == 0 && avgLoss == 0 {
			out[i] = 50
			continue
		}
		rs := avgGain / (avgLoss + Epsilon)
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACD returns the 12/26 EMA difference, its 9-period signal line and the
// histogram.
func MACD(closes []float64) (line, signal, hist []float64) {
	fast := EMA(closes, 12)
	slow := EMA(closes, 26)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	signal = EMA(line, 9)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

// Momentum returns close_t / close_{t-k} - 1; the first k values are NaN.
func Momentum(closes []float64, k int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/(closes[i-k]+Epsilon) - 1
	}
	return out
}

// ROC is Momentum expressed in percent.
func ROC(closes []float64, k int) []float64 {
	out := Momentum(closes, k)
	for i := range out {
		out[i] *= 100
	}
	return out
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
