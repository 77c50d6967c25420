package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domrepo "StockSense/internal/domain/repository"
	"StockSense/internal/handler/api"
	"StockSense/internal/handler/ws"
	internalrepo "StockSense/internal/repository"
	"StockSense/internal/service/ratelimit"
	"StockSense/internal/services/features"
	"StockSense/internal/services/preprocess"
	"StockSense/internal/services/regime"
	"StockSense/internal/services/training"
	"StockSense/internal/usecase"
	"StockSense/pkg/cache"
	pkgch "StockSense/pkg/clickhouse"
	"StockSense/pkg/config"
	pkgkafka "StockSense/pkg/kafka"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/metrics"
	"StockSense/pkg/postgres"
	"StockSense/pkg/queue"
	"StockSense/pkg/server"
)

func noop() {}

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse when the price source or the
// prediction history needs it. Returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.MarketData.Source != config.SourceClickHouse && !cfg.ClickHouse.StorePredictions {
		return nil, noop, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func needsRedis(cfg *config.Config) bool {
	switch cfg.Artifacts.Backend {
	case config.ArtifactsRedis, config.ArtifactsLayered:
		return true
	}
	return cfg.Queue.Enabled
}

// ProvideRedisClient connects to Redis for the artifact cache and the job
// queue. Returns nil when neither uses it.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !needsRedis(cfg) {
		return nil, noop, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresClient opens the artifact database for the postgres backend.
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Artifacts.Backend != config.ArtifactsPostgres {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := postgres.NewClient(ctx,
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithMaxConnections(cfg.Postgres.MaxConnections, 1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideArtifactStore selects the scaler/model store by artifacts.backend.
func ProvideArtifactStore(cfg *config.Config, rc *redis.Client, pg *postgres.Client, l *applogger.Logger) (domrepo.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case config.ArtifactsMemory:
		s := internalrepo.NewCacheArtifactStore(cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Artifacts.MemoryMaxSize)), cfg.Artifacts.TTL)
		s.SetLogger(l)
		return s, nil
	case config.ArtifactsRedis:
		s := internalrepo.NewCacheArtifactStore(cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix), cfg.Artifacts.TTL)
		s.SetLogger(l)
		return s, nil
	case config.ArtifactsLayered:
		lc := cache.NewLayeredCache(cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix),
			cache.WithLayeredMemorySize(cfg.Artifacts.MemoryMaxSize),
			cache.WithLayeredMemoryTTL(cfg.Artifacts.MemoryTTL))
		s := internalrepo.NewCacheArtifactStore(lc, cfg.Artifacts.TTL)
		s.SetLogger(l)
		return s, nil
	case config.ArtifactsPostgres:
		s := internalrepo.NewPostgresArtifactStore(pg.Pool())
		s.SetLogger(l)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := s.Prune(ctx, cfg.Postgres.KeepVersions); err != nil {
			l.Warn("artifact prune failed", applogger.Error(err))
		} else if n > 0 {
			l.Info("artifact versions pruned", applogger.Int64("rows", n))
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Artifacts.Backend)
}

// ProvidePriceSource selects where daily bars come from.
func ProvidePriceSource(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (domrepo.PriceSource, error) {
	switch cfg.MarketData.Source {
	case config.SourceHTTP:
		s := internalrepo.NewHTTPPriceSource(cfg.MarketData.BaseURL, cfg.MarketData.Timeout,
			internalrepo.WithAPIKey(cfg.MarketData.APIKey),
			internalrepo.WithRetry(cfg.MarketData.Retries, 250*time.Millisecond),
			internalrepo.WithRequestsPerMinute(cfg.MarketData.RatePerMinute),
		)
		s.SetLogger(l)
		return s, nil
	case config.SourceClickHouse:
		if ch == nil {
			return nil, fmt.Errorf("clickhouse price source: client not configured")
		}
		s := internalrepo.NewCHPriceSource(ch)
		s.SetLogger(l)
		return s, nil
	}
	return nil, fmt.Errorf("unknown market data source %q", cfg.MarketData.Source)
}

// ProvidePredictionStore keeps prediction history in ClickHouse when enabled.
func ProvidePredictionStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) domrepo.PredictionStore {
	if ch == nil || !cfg.ClickHouse.StorePredictions {
		return nil
	}
	s := internalrepo.NewCHPredictionStore(ch)
	s.SetLogger(l)
	return s
}

// ProvideKafkaProducer creates the producer for prediction events and, when
// enabled, routes aggregated error logs through it.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, noop, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	producer.SetLogger(l)

	if cfg.Logger.Collector.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collector.Interval,
			CountThreshold: cfg.Logger.Collector.Threshold,
			Topic:          cfg.Logger.Collector.Topic,
			Publisher:      producer,
			Warnings:       cfg.Logger.Collector.Warnings,
		})
	}
	cleanup := func() {
		l.RemoveCollector()
		_ = producer.Close()
	}
	return producer, cleanup, nil
}

// ProvideKafkaConsumer creates the retrain request consumer. Returns nil when
// Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetLogger(l)
	return consumer, nil
}

// ProvideJobQueue creates the Redis retrain queue. Jobs are registered and
// workers started by the server.
func ProvideJobQueue(cfg *config.Config, rc *redis.Client, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:        cfg.Queue.Workers,
		RetryLimit:     cfg.Queue.RetryLimit,
		RetryDelay:     cfg.Queue.RetryDelay,
		RecoverOnStart: cfg.Queue.RecoverOnStart,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name))
}

// ProvideHub creates the websocket prediction stream.
func ProvideHub(cfg *config.Config, l *applogger.Logger) *ws.Hub {
	h := ws.NewHub(cfg.Server.AllowedOrigins)
	h.SetLogger(l)
	return h
}

// ProvideNoHub is used by one-shot runs that have no websocket listeners.
func ProvideNoHub() *ws.Hub { return nil }

// ProvideNoJobQueue is used by one-shot runs that train inline.
func ProvideNoJobQueue() *queue.RedisQueue { return nil }

// ProvidePublisher fans predictions out to Kafka and websocket subscribers.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, hub *ws.Hub) domrepo.PredictionPublisher {
	var pubs []domrepo.PredictionPublisher
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic))
	}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	if len(pubs) == 0 {
		return nil
	}
	return internalrepo.NewMultiPublisher(pubs...)
}

// ProvideTrainer builds the ensemble trainer from the pipeline section.
func ProvideTrainer(cfg *config.Config, l *applogger.Logger) *training.Trainer {
	tc := training.DefaultConfig()
	tc.Folds = cfg.Pipeline.CVFolds
	tc.MinFoldSamples = cfg.Pipeline.MinFoldSamples
	tc.RidgeAlpha = cfg.Pipeline.RidgeAlpha
	if len(cfg.Pipeline.Candidates) > 0 {
		tc.Candidates = cfg.Pipeline.Candidates
	}
	if len(cfg.Pipeline.Weights) > 0 {
		tc.Weights = cfg.Pipeline.Weights
	}
	t := training.NewTrainer(tc)
	t.SetLogger(l)
	return t
}

// ProvidePipeline assembles the train and predict use case.
func ProvidePipeline(
	cfg *config.Config,
	prices domrepo.PriceSource,
	artifacts domrepo.ArtifactStore,
	store domrepo.PredictionStore,
	pub domrepo.PredictionPublisher,
	q *queue.RedisQueue,
	m domrepo.Metrics,
	trainer *training.Trainer,
	l *applogger.Logger,
) *usecase.Pipeline {
	opts := []usecase.Option{
		usecase.WithHorizon(cfg.Pipeline.HorizonDays),
		usecase.WithHistoryLimit(cfg.Pipeline.HistoryLimit),
		usecase.WithWorkers(cfg.Pipeline.Workers),
		usecase.WithCVFolds(cfg.Pipeline.CVFolds),
		usecase.WithTickers(cfg.Tickers),
		usecase.WithMetrics(m),
	}
	// optional sinks stay unset rather than holding typed nils
	if store != nil {
		opts = append(opts, usecase.WithPredictionStore(store))
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if q != nil {
		opts = append(opts, usecase.WithJobQueue(q))
	}

	p := usecase.NewPipeline(
		prices,
		artifacts,
		features.NewEngine(features.WithMinHistory(cfg.Pipeline.MinHistory)),
		preprocess.NewValidator(cfg.Pipeline.MinHistory),
		trainer,
		regime.NewDetector(cfg.Pipeline.RegimeWindow, cfg.Pipeline.RegimeBand),
		opts...,
	)
	p.SetLogger(l)
	return p
}

// ProvidePredictionsHandler creates the /api handler.
func ProvidePredictionsHandler(cfg *config.Config, p *usecase.Pipeline, l *applogger.Logger) *api.PredictionsHandler {
	h := api.NewPredictionsHandler(p, ratelimit.New(cfg.Server.TrainPerMinute))
	h.SetLogger(l)
	return h
}

// ProvideRetrainRequestHandler handles retrain requests from Kafka.
func ProvideRetrainRequestHandler(cfg *config.Config, p *usecase.Pipeline, l *applogger.Logger) *usecase.RetrainRequestHandler {
	return usecase.NewRetrainRequestHandler(cfg.Kafka.RetrainTopic, p, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	p *usecase.Pipeline,
	handler *api.PredictionsHandler,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	rh *usecase.RetrainRequestHandler,
	q *queue.RedisQueue,
) *server.App {
	app := server.New(cfg, l, p, server.Routes{handler, hub})
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LoggingHook(l)))
		app.SetConsumer(consumer, rh)
	}
	if q != nil {
		q.RegisterJob(usecase.NewRetrainJob(p, l))
		app.SetQueue(q)
	}
	app.SetHub(hub)
	return app
}
