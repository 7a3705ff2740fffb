package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemetry-backbone/src/config"
	"telemetry-backbone/src/coordinator"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/server"
)

// -----------------------------------------------------------------------------

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger and self-instrumentation
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)
	mx := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Setup Components
	store, err := setupStore(ctx, conf.MConfig, appLogger)
	if err != nil {
		stop()
		appLogger.Critical("Storage unavailable, shutting down")
	}
	if store != nil {
		defer store.Close()
	}

	fetcher := setupNetwork(conf.MConfig, appLogger)
	set := setupCollectors(conf.MConfig, appLogger, mx, store, fetcher)
	if len(set.all) == 0 {
		appLogger.Critical("No collectors enabled. Exiting.")
		os.Exit(1)
	}

	conns := server.NewConnectionManager(conf.WebSocket, appLogger.Named("connections"), mx)

	coordOpts := coordinator.Options{
		Logger:        appLogger.Named("coordinator"),
		Metrics:       mx,
		RetentionDays: conf.Storage.RetentionDays,
	}
	if store != nil {
		coordOpts.Store = store
	}
	coord, err := coordinator.New(conf.Coordinator, set.all, conns, coordOpts)
	if err != nil {
		appLogger.Critical("Failed to build coordinator: %v", err)
		os.Exit(1)
	}

	// 5. Start the pipeline
	if err := coord.Start(ctx); err != nil {
		appLogger.Critical("Failed to start coordinator: %v", err)
		os.Exit(1)
	}
	for name, err := range coord.StartFailures() {
		appLogger.Warning("Collector %s is down: %v", name, err)
	}

	// 6. Start Servers
	servers := startServers(ctx, conf, appLogger, coord, conns, set, store, mx)

	// 7. Wait for a signal
	<-ctx.Done()
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	servers.stop(shutdownCtx)
	if err := coord.Stop(shutdownCtx); err != nil {
		appLogger.Error("Coordinator stopped with errors: %v", err)
	}
	appLogger.Info("Shutdown complete.")
}
