package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	"StockSense/internal/services/features"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func series(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/7) + float64(i)*0.1
		bars[i] = models.PriceBar{Date: day(i), Close: c, Open: c, High: c, Low: c, Volume: 500 + float64(i%5)}
	}
	return bars
}

func TestCleanDeduplicatesKeepingLast(t *testing.T) {
	v := NewValidator(3)
	bars := []models.PriceBar{
		{Date: day(2), Close: 12},
		{Date: day(0), Close: 10},
		{Date: day(1), Close: 11},
		{Date: day(1), Close: 11.5},
		{Date: day(3), Close: 0},
		{Date: day(4), Close: math.NaN()},
		{Date: day(5), Close: 15},
	}
	out, err := v.Clean("ABC", bars)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, 11.5, out[1].Close)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].Date.After(out[i-1].Date))
	}
	assert.Equal(t, 12.0, bars[0].Close, "input must not be reordered")
}

func TestCleanTooShort(t *testing.T) {
	_, err := NewValidator(100).Clean("ABC", series(40))
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestFitScalerConstantFeature(t *testing.T) {
	table := &models.FeatureTable{
		Names: []string{"a", "b"},
		Rows:  [][]float64{{1, 5}, {3, 5}, {5, 5}},
	}
	state, err := FitScaler("ABC", table)
	require.NoError(t, err)
	assert.InDelta(t, 3, state.Stats["a"].Mean, 1e-12)
	assert.Equal(t, 1.0, state.Stats["b"].Std)

	scaled, err := Transform(state, table)
	require.NoError(t, err)
	for _, row := range scaled {
		assert.Equal(t, 0.0, row[1])
	}
	assert.InDelta(t, 0, scaled[1][0], 1e-12)
}

func TestFitScalerEmpty(t *testing.T) {
	_, err := FitScaler("ABC", &models.FeatureTable{Names: []string{"a"}})
	assert.ErrorIs(t, err, models.ErrEmptyFeatureSet)
}

func TestTransformRequiresScaler(t *testing.T) {
	_, err := Transform(nil, &models.FeatureTable{Names: []string{"a"}, Rows: [][]float64{{1}}})
	assert.ErrorIs(t, err, models.ErrMissingScaler)
}

func TestTransformFeatureMismatch(t *testing.T) {
	state := &models.ScalerState{Ticker: "ABC", Stats: map[string]models.FeatureStat{"a": {Std: 1}}}
	_, err := Transform(state, &models.FeatureTable{Names: []string{"b"}, Rows: [][]float64{{1}}})
	assert.Error(t, err)
}

func TestApplyModeIsDeterministic(t *testing.T) {
	v := NewValidator(100)
	engine := features.NewEngine()

	clean, err := v.Clean("ABC", series(260))
	require.NoError(t, err)
	train, err := engine.Build(clean[:200])
	require.NoError(t, err)
	state, err := FitScaler("ABC", train)
	require.NoError(t, err)
	fittedAt := state.FittedAt

	table, err := engine.Build(clean)
	require.NoError(t, err)
	first, err := Transform(state, table)
	require.NoError(t, err)
	second, err := Transform(state, table)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, fittedAt, state.FittedAt)
	assert.Equal(t, 200-features.Warmup, state.Samples)
}
