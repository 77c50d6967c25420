package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	"StockSense/pkg/cache"
	applogger "StockSense/pkg/logger"
)

const (
	kindScaler = "scaler"
	kindModel  = "model"
	indexKey   = "model:index"
	lockTTL    = 5 * time.Second
)

// CacheArtifactStore keeps versioned scalers and models in a cache.Service.
// Each Put writes an immutable versioned key and then moves the ticker's
// "current" pointer, so readers see either the old or the new artifact.
type CacheArtifactStore struct {
	c   cache.Service
	ttl time.Duration
	l   *applogger.Logger
}

// NewCacheArtifactStore builds a store; ttl <= 0 keeps entries without expiry
// where the backend allows it.
func NewCacheArtifactStore(c cache.Service, ttl time.Duration) *CacheArtifactStore {
	return &CacheArtifactStore{c: c, ttl: ttl}
}

// SetLogger injects a structured logger.
func (s *CacheArtifactStore) SetLogger(l *applogger.Logger) { s.l = l }

func currentKey(kind, ticker string) string { return cache.GenerateKeyWithParams(kind, ticker, "current") }
func seqKey(kind, ticker string) string     { return cache.GenerateKeyWithParams(kind, ticker, "seq") }
func versionKey(kind, ticker string, v int64) string {
	return cache.GenerateKeyWithParams(kind, ticker, "v"+strconv.FormatInt(v, 10))
}

// publish stores value under the next version and returns that version.
func (s *CacheArtifactStore) publish(ctx context.Context, kind, ticker string, value func(v int64) interface{}) (int64, error) {
	v, err := s.c.Increment(ctx, seqKey(kind, ticker))
	if err != nil {
		return 0, fmt.Errorf("%s %s: next version: %w", kind, ticker, err)
	}
	if err := s.c.Set(ctx, versionKey(kind, ticker, v), value(v), s.ttl); err != nil {
		return 0, fmt.Errorf("%s %s: write v%d: %w", kind, ticker, v, err)
	}
	if err := s.c.Set(ctx, currentKey(kind, ticker), strconv.FormatInt(v, 10), s.ttl); err != nil {
		return 0, fmt.Errorf("%s %s: swap current: %w", kind, ticker, err)
	}
	if s.l != nil {
		s.l.Info("artifact published",
			applogger.String("kind", kind),
			applogger.String("ticker", ticker),
			applogger.Int64("version", v),
		)
	}
	return v, nil
}

// retire leaves an older version readable for in-flight readers until it
// expires.
func (s *CacheArtifactStore) retire(ctx context.Context, kind, ticker string, v int64) {
	if v > 0 {
		_, _ = s.c.Expire(ctx, versionKey(kind, ticker, v), time.Minute)
	}
}

func (s *CacheArtifactStore) load(ctx context.Context, kind, ticker string, dest interface{}) error {
	var cur string
	if err := s.c.Get(ctx, currentKey(kind, ticker), &cur); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return domrepo.ErrNotFound
		}
		return fmt.Errorf("%s %s: read current: %w", kind, ticker, err)
	}
	v, err := strconv.ParseInt(cur, 10, 64)
	if err != nil {
		return fmt.Errorf("%s %s: bad version %q", kind, ticker, cur)
	}
	return s.loadVersion(ctx, kind, ticker, v, dest)
}

func (s *CacheArtifactStore) loadVersion(ctx context.Context, kind, ticker string, v int64, dest interface{}) error {
	if err := s.c.Get(ctx, versionKey(kind, ticker, v), dest); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return domrepo.ErrNotFound
		}
		return fmt.Errorf("%s %s: read v%d: %w", kind, ticker, v, err)
	}
	return nil
}

func (s *CacheArtifactStore) GetScaler(ctx context.Context, ticker string) (*models.ScalerState, error) {
	var st models.ScalerState
	if err := s.load(ctx, kindScaler, ticker, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *CacheArtifactStore) GetScalerVersion(ctx context.Context, ticker string, version int64) (*models.ScalerState, error) {
	var st models.ScalerState
	if err := s.loadVersion(ctx, kindScaler, ticker, version, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutScaler keeps older scaler versions alive; they are retired once a model
// pinned to a newer scaler is published.
func (s *CacheArtifactStore) PutScaler(ctx context.Context, ticker string, st *models.ScalerState) (int64, error) {
	return s.publish(ctx, kindScaler, ticker, func(int64) interface{} { return st })
}

func (s *CacheArtifactStore) GetModel(ctx context.Context, ticker string) (*models.TrainedModel, error) {
	var m models.TrainedModel
	if err := s.load(ctx, kindModel, ticker, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// PutModel publishes m as the ticker's next version. m is not modified; the
// stored copy carries the assigned version.
func (s *CacheArtifactStore) PutModel(ctx context.Context, ticker string, m *models.TrainedModel) error {
	v, err := s.publish(ctx, kindModel, ticker, func(v int64) interface{} {
		cp := *m
		cp.Version = v
		return &cp
	})
	if err != nil {
		return err
	}
	s.retire(ctx, kindModel, ticker, v-1)
	if m.ScalerVersion > 0 {
		s.retire(ctx, kindScaler, ticker, m.ScalerVersion-1)
	}
	return s.addToIndex(ctx, ticker)
}

func (s *CacheArtifactStore) ListModels(ctx context.Context) ([]string, error) {
	var tickers []string
	if err := s.c.Get(ctx, indexKey, &tickers); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read model index: %w", err)
	}
	return tickers, nil
}

func (s *CacheArtifactStore) addToIndex(ctx context.Context, ticker string) error {
	lock := indexKey + ":lock"
	for attempt := 0; ; attempt++ {
		ok, err := s.c.TryLock(ctx, lock, lockTTL)
		if err != nil {
			return fmt.Errorf("lock model index: %w", err)
		}
		if ok {
			break
		}
		if attempt >= 50 {
			return fmt.Errorf("lock model index: timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer func() { _ = s.c.Unlock(ctx, lock) }()

	tickers, err := s.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, t := range tickers {
		if t == ticker {
			return nil
		}
	}
	tickers = append(tickers, ticker)
	sort.Strings(tickers)
	return s.c.Set(ctx, indexKey, tickers, 0)
}

var _ domrepo.ArtifactStore = (*CacheArtifactStore)(nil)
