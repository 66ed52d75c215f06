//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/Eashwar-S/knowledge-map/infrastructure/config"

	"github.com/google/wire"
)

// StorageSet opens the configured backends and builds the stores on top of them
var StorageSet = wire.NewSet(
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideBadgerDB,
	ProvideSQLiteDB,
	ProvideRedisClient,
	wire.Struct(new(Backends), "*"),
	ProvideSnapshotStore,
	ProvideHistoryLog,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogLevel,
	ProvideLogger,
	StorageSet,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideCollector,
	ProvideCloudWatchMetrics,
	ProvideMetricsRecorder,
	ProvideHookManager,
	ProvideChangePublisher,
	ProvideRetryPolicy,
	ProvideGraphService,
	wire.Struct(new(Container), "*"),
)

// initializeContainer creates a fully wired container
func initializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
