//go:build wireinject
// +build wireinject

package di

import (
	"DigitCast/pkg/config"
	"DigitCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,

		// Prediction
		ProvideTrainer,
		ProvideLogSource,

		// Use cases
		ProvideSessionManager,
		ProvideKafkaOutcomesHandler,

		// Transport
		ProvideSessionsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
