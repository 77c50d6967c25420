package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"StockSense/internal/handler/ws"
	"StockSense/internal/usecase"
	"StockSense/pkg/config"
	xhttp "StockSense/pkg/http"
	pkgkafka "StockSense/pkg/kafka"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/queue"
)

// Routes combines several route registrars into one xhttp.Handler.
type Routes []xhttp.Handler

// RegisterRoutes registers every handler in order.
func (r Routes) RegisterRoutes(e *echo.Echo) {
	for _, h := range r {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	pipeline   *usecase.Pipeline
	routes     xhttp.Handler
	hub        *ws.Hub
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	queue      *queue.RedisQueue
	httpServer *xhttp.Server
}

// New creates a new App instance.
func New(cfg *config.Config, l *applogger.Logger, p *usecase.Pipeline, routes xhttp.Handler) *App {
	return &App{cfg: cfg, l: l, pipeline: p, routes: routes}
}

// SetConsumer attaches the retrain request consumer.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetQueue attaches the retrain job queue. Jobs must already be registered.
func (a *App) SetQueue(q *queue.RedisQueue) { a.queue = q }

// SetHub attaches the websocket prediction stream.
func (a *App) SetHub(h *ws.Hub) { a.hub = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.hub != nil {
		go a.hub.Run(ctx)
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.stopQueue()
			return fmt.Errorf("start consumer: %w", err)
		}
	}

	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		xhttp.WithLogger(a.l),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	a.httpServer = xhttp.NewServer(a.routes, opts...)
	if err := a.httpServer.Start(); err != nil {
		a.httpServer = nil
		_ = a.shutdown()
		return fmt.Errorf("start http server: %w", err)
	}
	a.l.Info("stocksense started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Int("horizon_days", a.pipeline.HorizonDays()),
	)

	if a.cfg.Pipeline.TrainOnStart {
		go a.warmStart(ctx)
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// warmStart trains the universe when no model has been published yet.
func (a *App) warmStart(ctx context.Context) {
	h, err := a.pipeline.Health(ctx)
	if err != nil {
		a.l.Warn("warm start skipped", applogger.Error(err))
		return
	}
	if h.ModelsLoaded > 0 {
		return
	}
	a.l.Info("no published models, training on start")
	report, err := a.pipeline.TrainAll(ctx, nil, 0, nil)
	if err != nil {
		a.l.Error("warm start training failed", applogger.Error(err))
		return
	}
	a.l.Info("warm start training done",
		applogger.Int("trained", len(report.Trained)),
		applogger.Int("failed", len(report.Errors)),
		applogger.Int64("duration_ms", report.DurationMS),
	)
}

func (a *App) stopQueue() {
	if a.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.queue.Stop(ctx); err != nil {
		a.l.Warn("queue stop error", applogger.Error(err))
	}
}

// shutdown stops intake first, then the workers, then the stream.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.stopQueue()
	if a.hub != nil {
		_ = a.hub.Close()
	}

	a.l.Info("shutdown complete")
	return nil
}
