//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"
	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/server"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	dataProviderSet,

	// Repositories
	repositoryProviderSet,

	// Use cases
	useCaseProviderSet,

	// Queue
	queueProviderSet,

	// HTTP services
	httpServiceProviderSet,

	// Servers
	serverProviderSet,
)

// Data layer providers
var dataProviderSet = wire.NewSet(
	provideData,
	provideHealthChecker,
	provideRegistry,
	provideImageMetrics,
)

// Repository providers
var repositoryProviderSet = wire.NewSet(
	provideImageRepo,
	provideBlobStore,
)

// Use case providers
var useCaseProviderSet = wire.NewSet(
	provideClassifier,
	provideIntakeUseCase,
)

// Queue providers
var queueProviderSet = wire.NewSet(
	provideBroker,
	provideWorkerPool,
	provideClassifyWorkerWithStart,
)

// HTTP service providers
var httpServiceProviderSet = wire.NewSet(
	provideImageService,
)

// Server providers
var serverProviderSet = wire.NewSet(
	server.NewHTTPServer,
)

// InitializeApp initializes the application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, newApp)
	return nil, nil, nil
}
