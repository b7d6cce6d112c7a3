//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"PriceSheet/pkg/config"
	"PriceSheet/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application with
// a cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure
		ProvideCache,
		ProvideSheet,
		ProvideHistory,
		ProvideKafkaProducer,

		// Pricing
		ProvideQuoteProvider,
		ProvideFetcher,
		ProvidePublisher,

		// Use cases
		ProvideScheduler,
		ProvideUpdater,
		ProvideRunner,

		// Outer surfaces
		ProvideCommandConsumer,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
