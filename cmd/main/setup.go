package main

import (
	"context"
	"time"

	"telemetry-backbone/src/bridge"
	"telemetry-backbone/src/collectors"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"
	"telemetry-backbone/src/network"
	"telemetry-backbone/src/storage"
)

// -----------------------------------------------------------------------------

// setupStore opens and migrates the time-series store. db_type "none"
// disables persistence.
func setupStore(ctx context.Context, config *models.MConfig, appLogger *logger.Logger) (*storage.SQLStore, error) {
	if config.Storage.DBType == "none" {
		appLogger.Warning("Persistence disabled")
		return nil, nil
	}

	store, err := storage.NewSQLStore(config.Storage, appLogger.Named("store"))
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		store.Close()
		return nil, err
	}
	return store, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the HTTP fetcher shared by every bridge
func setupNetwork(config *models.MConfig, appLogger *logger.Logger) interfaces.INetworkManager {
	return network.NewHTTPFetcher(config.Network, appLogger.Named("network"))
}

// -----------------------------------------------------------------------------

// collectorSet keeps typed handles next to the generic list so the API can
// route direct events.
type collectorSet struct {
	all        []interfaces.ICollector
	marketData *collectors.MarketDataCollector
	strategy   *collectors.StrategyCollector
	execution  *collectors.ExecutionCollector
	system     *collectors.SystemCollector
}

// setupCollectors builds every enabled collector with its bridge.
func setupCollectors(
	config *models.MConfig,
	appLogger *logger.Logger,
	mx *metrics.Metrics,
	store *storage.SQLStore,
	fetcher interfaces.INetworkManager,
) collectorSet {
	opts := collectors.Options{
		Logger:    appLogger,
		Metrics:   mx,
		StopGrace: time.Duration(config.Coordinator.StopGraceMs) * time.Millisecond,
		Buffer: collectors.BufferConfig{
			BatchSize:   config.Storage.BatchSize,
			MaxBuffered: config.Storage.MaxBufferedRecords,
		},
		FlushInterval: time.Duration(config.Storage.FlushIntervalMs) * time.Millisecond,
	}
	if store != nil {
		opts.Store = store
	}

	newBridge := func(category string, cfg models.MBridgeConfig) *bridge.Bridge {
		if !cfg.Enabled() {
			return nil
		}
		return bridge.NewBridge(category, cfg, fetcher, appLogger.Named("bridge."+category), mx)
	}

	var set collectorSet
	cc := config.Collectors

	if cc.MarketData.Enabled {
		set.marketData = collectors.NewMarketDataCollector(cc.MarketData, opts)
		set.all = append(set.all, set.marketData)
	}
	if cc.Strategy.Enabled {
		set.strategy = collectors.NewStrategyCollector(cc.Strategy, opts)
		set.all = append(set.all, set.strategy)
	}
	if cc.Execution.Enabled {
		b := newBridge(models.SnapshotExecution, cc.Execution.Bridge)
		set.execution = collectors.NewExecutionCollector(cc.Execution, b, opts)
		set.all = append(set.all, set.execution)
	}
	if cc.System.Enabled {
		b := newBridge(models.SnapshotSystem, cc.System.Bridge)
		set.system = collectors.NewSystemCollector(cc.System, collectors.GopsutilSampler(cc.System.DiskPath), b, opts)
		set.all = append(set.all, set.system)
	}

	appLogger.Info("Initialized %d collectors", len(set.all))
	return set
}
