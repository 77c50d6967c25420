package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	"StockSense/internal/repository"
	"StockSense/internal/services/features"
	"StockSense/internal/services/preprocess"
	"StockSense/internal/services/regime"
	"StockSense/internal/services/training"
	"StockSense/internal/usecase"
	"StockSense/pkg/cache"
	"StockSense/pkg/config"
	applogger "StockSense/pkg/logger"
)

type emptyPrices struct{}

func (emptyPrices) GetDailyBars(context.Context, string, time.Time, int) ([]models.PriceBar, error) {
	return nil, nil
}

func (emptyPrices) ListTickers(context.Context) ([]string, error) { return nil, nil }

type pingRoute string

func (p pingRoute) RegisterRoutes(e *echo.Echo) {
	e.GET("/"+string(p), func(c echo.Context) error { return c.String(http.StatusOK, string(p)) })
}

func newTestApp(t *testing.T, buf *bytes.Buffer) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Metrics.Enabled = false

	l := applogger.NewWithWriter(buf, "debug")
	p := usecase.NewPipeline(
		emptyPrices{},
		repository.NewCacheArtifactStore(cache.NewMemoryCache(), 0),
		features.NewEngine(),
		preprocess.NewValidator(cfg.Pipeline.MinHistory),
		training.NewTrainer(training.DefaultConfig()),
		regime.NewDetector(cfg.Pipeline.RegimeWindow, cfg.Pipeline.RegimeBand),
	)
	return New(cfg, l, p, Routes{pingRoute("a"), nil, pingRoute("b")})
}

func TestRoutesRegistersEveryHandler(t *testing.T) {
	e := echo.New()
	Routes{pingRoute("a"), nil, pingRoute("b")}.RegisterRoutes(e)

	for _, path := range []string{"/a", "/b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRunContextShutsDownOnCancel(t *testing.T) {
	var buf bytes.Buffer
	app := newTestApp(t, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
	assert.Contains(t, buf.String(), "shutdown complete")
}

func TestWarmStartTrainsWhenNothingPublished(t *testing.T) {
	var buf bytes.Buffer
	app := newTestApp(t, &buf)

	app.warmStart(context.Background())
	assert.Contains(t, buf.String(), "training on start")
	assert.Contains(t, buf.String(), "warm start training done")
}
