// Command graphctl inspects and edits graphs directly against the
// configured storage backends.
package main

import (
	"context"
	"os"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/infrastructure/config"
	"github.com/Eashwar-S/knowledge-map/infrastructure/di"
)

// openFromConfig builds the graph service from the config file (or the
// environment when path is empty)
func openFromConfig(ctx context.Context, path string) (*services.GraphService, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	// a CLI run should not print the server's request logs
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return container.Service, container.Close, nil
}

func main() {
	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		os.Exit(1)
	}
}
