// Command statserver launches the burst-smoothed live-count aggregator and
// websocket broadcaster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/yatesi-xyz/statserver/internal/broadcast"
	"github.com/yatesi-xyz/statserver/internal/burst"
	"github.com/yatesi-xyz/statserver/internal/cache"
	"github.com/yatesi-xyz/statserver/internal/config"
	"github.com/yatesi-xyz/statserver/internal/database"
	"github.com/yatesi-xyz/statserver/internal/logging"
	"github.com/yatesi-xyz/statserver/internal/supervisor"
	"github.com/yatesi-xyz/statserver/internal/telemetry"
)

const (
	defaultConfigPath = "config.toml"
	connectTimeout    = 10 * time.Second
	telemetryShutdown = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", defaultConfigPath, "path to config.toml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	telemetryCfg := telemetry.DefaultConfig()
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		logger.Errorw("init telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	metric, err := telemetry.NewMetrics(provider.Meter("statserver"), telemetry.Environment())
	if err != nil {
		logger.Errorw("init metrics", "error", err)
		return 1
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
	cacheClient, err := cache.Open(connectCtx, cfg.Cache)
	cancelConnect()
	if err != nil {
		logger.Errorw("connect to cache", "error", err)
		return 1
	}
	defer func() { _ = cacheClient.Close() }()

	connectCtx, cancelConnect = context.WithTimeout(ctx, connectTimeout)
	dbClient, err := database.Connect(connectCtx, cfg.Database)
	cancelConnect()
	if err != nil {
		logger.Errorw("connect to database", "error", err)
		return 1
	}
	defer func() { _ = dbClient.Close() }()

	aggregators := make(map[string]supervisor.Aggregator, len(cfg.Burst.Resources))
	for _, resource := range cfg.Burst.Resources {
		resourceLogger := logging.Resource(logging.Component(logger, "burst"), resource)
		aggregators[resource] = burst.New(dbClient, cacheClient, burst.Config{
			Expire:   cfg.Burst.Expire,
			Watchdog: cfg.Burst.Watchdog,
		}, cfg.Burst.SyncInterval, resourceLogger, metric)
	}

	server := broadcast.New(cfg.Server, cacheClient, logging.Component(logger, "broadcast"), metric)

	var wg conc.WaitGroup
	wg.Go(func() {
		supervisor.Run(ctx, aggregators, logging.Component(logger, "supervisor"), metric)
	})
	wg.Go(func() {
		if err := server.Run(ctx); err != nil {
			logger.Errorw("broadcaster terminated", "error", err)
			stop()
		}
	})

	logger.Infow("statserver started",
		"resources", cfg.Burst.Resources,
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	wg.Wait()
	logger.Info("shutdown complete")
	return 0
}
