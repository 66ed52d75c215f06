package di

import (
	"context"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/infrastructure/config"
	"github.com/Eashwar-S/knowledge-map/infrastructure/observability"
	"github.com/Eashwar-S/knowledge-map/pkg/extensions"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	LogLevel  zap.AtomicLevel
	Snapshots ports.SnapshotStore
	History   ports.HistoryLog
	Hooks     *extensions.HookManager
	Metrics   ports.MetricsRecorder
	Collector *observability.Collector // nil unless the prometheus sink is configured
	Service   *services.GraphService

	cleanup func() `wire:"-"`
}

// Close releases the storage clients and flushes buffered metrics
func (c *Container) Close() {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	_ = c.Logger.Sync()
}

// ApplyConfig applies the settings that can change without a restart
func (c *Container) ApplyConfig(cfg *config.Config) {
	if level, err := ProvideLogLevel(cfg); err == nil {
		c.LogLevel.SetLevel(level.Level())
	}
	c.Service.SetRetryPolicy(RetryPolicyFromConfig(cfg.Retry))
	c.Config = cfg
}

// InitializeContainer wires every dependency for cfg. Call Close when done.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	container, cleanup, err := initializeContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	container.cleanup = cleanup
	return container, nil
}
