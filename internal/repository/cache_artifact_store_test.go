package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	"StockSense/pkg/cache"
)

func cacheBackends(t *testing.T) map[string]cache.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rc := cache.NewRedisCacheFromClient(client, "test")
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]cache.Service{
		"memory":  mem,
		"redis":   rc,
		"layered": cache.NewLayeredCache(cache.NewRedisCacheFromClient(client, "layered")),
	}
}

func sampleModel(ticker string) *models.TrainedModel {
	return &models.TrainedModel{
		Ticker:      ticker,
		HorizonDays: 7,
		Features:    []string{"rsi_14", "volatility_20"},
		Metrics:     models.FitMetrics{R2: 0.42, Folds: 3},
		Members: []models.EnsembleMember{
			{Name: "ridge", Kind: models.MemberLinear, Weight: 1, Linear: &models.LinearModel{Intercept: 0.01, Coef: []float64{0.2, -0.1}}},
		},
		DataPoints: 300,
		TrainedAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestCacheArtifactStore_NotFound(t *testing.T) {
	for name, c := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewCacheArtifactStore(c, 0)
			ctx := context.Background()

			_, err := s.GetModel(ctx, "AAPL")
			assert.ErrorIs(t, err, domrepo.ErrNotFound)
			_, err = s.GetScaler(ctx, "AAPL")
			assert.ErrorIs(t, err, domrepo.ErrNotFound)

			list, err := s.ListModels(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestCacheArtifactStore_PublishVersions(t *testing.T) {
	for name, c := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewCacheArtifactStore(c, time.Hour)
			ctx := context.Background()

			m := sampleModel("AAPL")
			require.NoError(t, s.PutModel(ctx, "AAPL", m))
			assert.Zero(t, m.Version, "caller's model must not be modified")

			got, err := s.GetModel(ctx, "AAPL")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.InDelta(t, 0.42, got.Metrics.R2, 1e-12)
			require.Len(t, got.Members, 1)
			assert.Equal(t, []float64{0.2, -0.1}, got.Members[0].Linear.Coef)

			m2 := sampleModel("AAPL")
			m2.Metrics.R2 = 0.55
			require.NoError(t, s.PutModel(ctx, "AAPL", m2))

			got, err = s.GetModel(ctx, "AAPL")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.InDelta(t, 0.55, got.Metrics.R2, 1e-12)
		})
	}
}

func TestCacheArtifactStore_Scaler(t *testing.T) {
	for name, c := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewCacheArtifactStore(c, 0)
			ctx := context.Background()

			st := &models.ScalerState{
				Ticker:   "MSFT",
				Features: []string{"rsi_14"},
				Stats:    map[string]models.FeatureStat{"rsi_14": {Mean: 50, Std: 10}},
				Samples:  250,
			}
			v1, err := s.PutScaler(ctx, "MSFT", st)
			require.NoError(t, err)
			assert.Equal(t, int64(1), v1)

			got, err := s.GetScaler(ctx, "MSFT")
			require.NoError(t, err)
			assert.Equal(t, st.Stats, got.Stats)
			assert.Equal(t, 250, got.Samples)

			next := &models.ScalerState{Ticker: "MSFT", Features: []string{"rsi_14"},
				Stats: map[string]models.FeatureStat{"rsi_14": {Mean: 500, Std: 100}}}
			v2, err := s.PutScaler(ctx, "MSFT", next)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v2)

			// the pinned version still reads back after a newer one is current
			pinned, err := s.GetScalerVersion(ctx, "MSFT", v1)
			require.NoError(t, err)
			assert.Equal(t, 50.0, pinned.Stats["rsi_14"].Mean)
			cur, err := s.GetScaler(ctx, "MSFT")
			require.NoError(t, err)
			assert.Equal(t, 500.0, cur.Stats["rsi_14"].Mean)

			_, err = s.GetScalerVersion(ctx, "MSFT", 9)
			assert.ErrorIs(t, err, domrepo.ErrNotFound)

			// scalers do not enter the model index
			list, err := s.ListModels(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestCacheArtifactStore_IndexIsSortedAndUnique(t *testing.T) {
	for name, c := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewCacheArtifactStore(c, 0)
			ctx := context.Background()

			for _, tk := range []string{"MSFT", "AAPL", "MSFT", "GOOG"} {
				require.NoError(t, s.PutModel(ctx, tk, sampleModel(tk)))
			}
			list, err := s.ListModels(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, list)
		})
	}
}

func TestCacheArtifactStore_ConcurrentPublishers(t *testing.T) {
	s := NewCacheArtifactStore(cache.NewMemoryCache(), 0)
	ctx := context.Background()
	tickers := []string{"T01", "T02", "T03", "T04", "T05", "T06", "T07", "T08"}

	var wg sync.WaitGroup
	for _, tk := range tickers {
		wg.Add(1)
		go func(tk string) {
			defer wg.Done()
			assert.NoError(t, s.PutModel(ctx, tk, sampleModel(tk)))
		}(tk)
	}
	wg.Wait()

	list, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, tickers, list)
}
