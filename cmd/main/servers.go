package main

import (
	"context"
	"fmt"
	"sync"

	"telemetry-backbone/src/config"
	"telemetry-backbone/src/coordinator"
	"telemetry-backbone/src/grpc_control"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/server"
	"telemetry-backbone/src/storage"
)

// -----------------------------------------------------------------------------

type runningServers struct {
	api        *server.APIServer
	cancelGRPC context.CancelFunc
	wg         sync.WaitGroup
}

// startServers launches the HTTP API and the gRPC health service
func startServers(
	ctx context.Context,
	conf *config.Config,
	appLogger *logger.Logger,
	coord *coordinator.Coordinator,
	conns *server.ConnectionManager,
	set collectorSet,
	store *storage.SQLStore,
	mx *metrics.Metrics,
) *runningServers {
	deps := server.APIDeps{
		Connections: conns,
		Snapshots:   coord,
		Metrics:     mx,
	}
	if store != nil {
		deps.Querier = store
	}
	if set.marketData != nil {
		deps.Ticks = set.marketData
	}
	if set.strategy != nil {
		deps.Signals = set.strategy
		deps.Trades = set.strategy
	}
	if set.execution != nil {
		deps.Executions = set.execution
	}

	rs := &runningServers{
		api: server.NewAPIServer(conf.MConfig, appLogger.Named("api"), deps),
	}

	// 1. HTTP API + websocket
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		if err := rs.api.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 2. gRPC health
	if conf.GrpcPort > 0 {
		grpcCtx, cancel := context.WithCancel(ctx)
		rs.cancelGRPC = cancel
		healthService := grpc_control.NewHealthService(coord, appLogger.Named("grpc"))
		addr := fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			if err := healthService.Serve(grpcCtx, addr); err != nil {
				appLogger.Error("gRPC health service failed: %v", err)
			}
		}()
	}
	return rs
}

// -----------------------------------------------------------------------------

func (rs *runningServers) stop(ctx context.Context) {
	if err := rs.api.Stop(ctx); err != nil {
		rs.api.Logger.Error("API shutdown: %v", err)
	}
	if rs.cancelGRPC != nil {
		rs.cancelGRPC()
	}
	rs.wg.Wait()
}
