package models

import "time"

// FeatureVector maps feature names to values for a single time step.
type FeatureVector map[string]float64

// FeatureTable holds derived features row-aligned with the bars they came from.
// Rows[i] follows the column order of Names.
type FeatureTable struct {
	Names  []string
	Rows   [][]float64
	Dates  []time.Time
	Closes []float64
	// Index is the position of each row's source bar in the cleaned series.
	Index []int
}

// Len returns the number of rows.
func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name in Names, or -1.
func (t *FeatureTable) ColumnIndex(name string) int {
	for i, n := range t.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Value returns the named feature at row i, or 0 if the feature is unknown.
func (t *FeatureTable) Value(i int, name string) float64 {
	j := t.ColumnIndex(name)
	if j < 0 || i < 0 || i >= len(t.Rows) {
		return 0
	}
	return t.Rows[i][j]
}

// Vector returns row i as a named FeatureVector.
func (t *FeatureTable) Vector(i int) FeatureVector {
	v := make(FeatureVector, len(t.Names))
	for j, n := range t.Names {
		v[n] = t.Rows[i][j]
	}
	return v
}
