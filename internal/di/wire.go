//go:build wireinject
// +build wireinject

package di

import (
	"FinScan/pkg/config"
	"FinScan/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideLayeredCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCandleStore,
		ProvideBackupStore,
		ProvideInstrumentStore,
		ProvideScanCacheStore,
		ProvideEventPublisher,

		// Domain services
		ProvideCalendar,
		ProvideFeatureEngine,

		// Use cases
		ProvideAggregator,
		ProvideCandleProvider,
		ProvideOrchestrator,
		ProvideResultCache,
		ProvideJobQueue,
		ProvideScanService,
		ProvidePrecomputer,
		ProvideKafkaCandlesHandler,
		ProvideCandlesUseCase,

		// Runtime
		ProvideScheduler,
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
