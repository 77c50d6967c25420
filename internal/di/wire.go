//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"StockSense/internal/usecase"
	"StockSense/pkg/config"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/server"
)

var storageSet = wire.NewSet(
	ProvideClickHouseClient,
	ProvideRedisClient,
	ProvidePostgresClient,
	ProvideArtifactStore,
	ProvidePriceSource,
	ProvidePredictionStore,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		storageSet,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideJobQueue,
		ProvideHub,
		ProvidePublisher,
		ProvideTrainer,
		ProvidePipeline,
		ProvidePredictionsHandler,
		ProvideRetrainRequestHandler,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializePipeline wires the pipeline for one-shot CLI runs. There is no
// websocket stream and no job queue.
func InitializePipeline(cfg *config.Config, l *applogger.Logger) (*usecase.Pipeline, func(), error) {
	wire.Build(
		ProvideMetrics,
		storageSet,
		ProvideKafkaProducer,
		ProvideNoHub,
		ProvideNoJobQueue,
		ProvidePublisher,
		ProvideTrainer,
		ProvidePipeline,
	)
	return nil, nil, nil
}
