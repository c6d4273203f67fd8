// ForgetSubs - find and cancel forgotten subscriptions
package main

import (
	"context"
	"os"

	"github.com/forgetsubs/forgetsubs/internal/config"
	"github.com/forgetsubs/forgetsubs/internal/logging"
	"github.com/forgetsubs/forgetsubs/internal/server"
	"github.com/forgetsubs/forgetsubs/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting forgetsubs",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"unlock_price", cfg.UnlockPrice,
		"report_ttl", cfg.ReportTTL,
	)

	ctx := context.Background()

	// Initialize tracing (no-op when no endpoint is configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
