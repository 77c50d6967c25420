package training

import "sort"

// maxBins bounds the number of histogram bins per feature.
const maxBins = 64

// binner maps raw feature values to histogram bins using per-feature quantile
// edges. A value v falls in the first bin k with v <= edges[f][k]; values above
// the last edge go to the final bin.
type binner struct {
	edges [][]float64
}

func newBinner(X [][]float64) *binner {
	if len(X) == 0 {
		return &binner{}
	}
	nf := len(X[0])
	b := &binner{edges: make([][]float64, nf)}
	col := make([]float64, len(X))
	for f := 0; f < nf; f++ {
		for i, row := range X {
			col[i] = row[f]
		}
		sort.Float64s(col)
		b.edges[f] = quantileEdges(col)
	}
	return b
}

// quantileEdges returns increasing split candidates from a sorted column.
// Columns with few distinct values get a split between every pair of
// neighbours; wider columns get one split near each quantile, moved forward
// to the next value change when the quantile lands inside a run of equal
// values. Thresholds are midpoints so they never coincide with a sample.
func quantileEdges(sorted []float64) []float64 {
	n := len(sorted)
	if n < 2 {
		return nil
	}
	if distinct := distinctValues(sorted); len(distinct) <= maxBins {
		edges := make([]float64, 0, len(distinct)-1)
		for i := 1; i < len(distinct); i++ {
			edges = append(edges, (distinct[i-1]+distinct[i])/2)
		}
		return edges
	}

	var edges []float64
	for k := 1; k < maxBins; k++ {
		idx := k * n / maxBins
		if idx < 1 {
			idx = 1
		}
		for idx < n && sorted[idx-1] == sorted[idx] {
			idx++
		}
		if idx >= n {
			break
		}
		v := (sorted[idx-1] + sorted[idx]) / 2
		if len(edges) > 0 && v <= edges[len(edges)-1] {
			continue
		}
		edges = append(edges, v)
	}
	return edges
}

// distinctValues stops counting once the column has more than maxBins values.
func distinctValues(sorted []float64) []float64 {
	out := []float64{sorted[0]}
	for _, v := range sorted[1:] {
		if v == out[len(out)-1] {
			continue
		}
		out = append(out, v)
		if len(out) > maxBins {
			break
		}
	}
	return out
}

// transform returns column-major bin indices.
func (b *binner) transform(X [][]float64) [][]uint8 {
	out := make([][]uint8, len(b.edges))
	for f, edges := range b.edges {
		col := make([]uint8, len(X))
		for i, row := range X {
			col[i] = uint8(sort.SearchFloat64s(edges, row[f]))
		}
		out[f] = col
	}
	return out
}

func (b *binner) numBins(f int) int {
	return len(b.edges[f]) + 1
}

// threshold returns the raw value separating bin k from bin k+1.
func (b *binner) threshold(f, k int) float64 {
	return b.edges[f][k]
}
