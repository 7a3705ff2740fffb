package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"golang.org/x/sync/errgroup"
)

// Options carries the optional collaborators of a Coordinator.
type Options struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Store enables the retention housekeeping loop.
	Store         interfaces.IStore
	RetentionDays int
}

// Coordinator starts the collectors, polls them on a fixed interval, and
// pushes each merged snapshot through the broadcaster.
type Coordinator struct {
	cfg         models.MCoordinatorConfig
	opts        Options
	logger      *logger.Logger
	collectors  []interfaces.ICollector
	broadcaster interfaces.IBroadcaster

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	loops       sync.WaitGroup

	seq      atomic.Uint64
	latestMu sync.RWMutex
	latest   models.MCompositeSnapshot

	failMu        sync.Mutex
	startFailures map[string]error
}

// -----------------------------------------------------------------------------

// New rejects two collectors sharing a category.
func New(cfg models.MCoordinatorConfig, collectors []interfaces.ICollector, broadcaster interfaces.IBroadcaster, opts Options) (*Coordinator, error) {
	seen := make(map[string]bool, len(collectors))
	for _, col := range collectors {
		if seen[col.Category()] {
			return nil, fmt.Errorf("duplicate collector category %q", col.Category())
		}
		seen[col.Category()] = true
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 100
	}
	if cfg.SnapshotTimeoutMs <= 0 {
		cfg.SnapshotTimeoutMs = 50
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDiscardLogger("coordinator")
	}

	return &Coordinator{
		cfg:           cfg,
		opts:          opts,
		logger:        opts.Logger,
		collectors:    collectors,
		broadcaster:   broadcaster,
		startFailures: make(map[string]error),
	}, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start brings up the broadcaster, then every collector concurrently. A
// collector that fails to start is recorded and left stopped; Start itself
// only fails when called on a cancelled context.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.broadcaster != nil {
		c.broadcaster.Start(runCtx)
	}

	c.failMu.Lock()
	c.startFailures = make(map[string]error)
	c.failMu.Unlock()

	var g errgroup.Group
	for _, col := range c.collectors {
		g.Go(func() error {
			if err := col.Start(ctx); err != nil {
				c.failMu.Lock()
				c.startFailures[col.Name()] = err
				c.failMu.Unlock()
				c.logger.Warning("Collector %s failed to start: %v", col.Name(), err)
			}
			return nil
		})
	}
	g.Wait()

	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		c.pollLoop(runCtx)
	}()
	if c.opts.Store != nil && c.opts.RetentionDays > 0 && c.cfg.CleanupIntervalMinutes > 0 {
		c.loops.Add(1)
		go func() {
			defer c.loops.Done()
			c.housekeepingLoop(runCtx)
		}()
	}

	c.running.Store(true)
	c.logger.Info("Coordinator started: %d/%d collectors ready, polling every %dms",
		len(c.collectors)-len(c.StartFailures()), len(c.collectors), c.cfg.PollIntervalMs)
	return nil
}

// -----------------------------------------------------------------------------

// Stop ends the loops, stops every collector (each flushes its buffers), and
// only then closes client connections, so no frame is sent to a closing socket.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running.Load() {
		return nil
	}
	c.logger.Info("Stopping coordinator...")

	c.cancel()
	c.loops.Wait()
	c.cancel = nil

	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	for _, col := range c.collectors {
		g.Go(func() error {
			if err := col.Stop(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", col.Name(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if c.broadcaster != nil {
		c.broadcaster.Stop()
	}

	c.running.Store(false)
	c.logger.Info("Coordinator stopped after %d ticks", c.seq.Load())
	return errors.Join(errs...)
}

// Running is true between Start and Stop.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// -----------------------------------------------------------------------------
// Poll loop
// -----------------------------------------------------------------------------

func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick gathers one snapshot per collector concurrently, merges them, stores
// the result as the latest composite and hands it to the broadcaster.
func (c *Coordinator) Tick(ctx context.Context) models.MCompositeSnapshot {
	begin := time.Now()
	ts := begin.UTC()
	timeout := time.Duration(c.cfg.SnapshotTimeoutMs) * time.Millisecond

	results := make([]models.MCollectorSnapshot, len(c.collectors))
	var wg sync.WaitGroup
	for i, col := range c.collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.snapshotOne(ctx, col, ts, timeout)
		}()
	}
	wg.Wait()

	composite := models.MCompositeSnapshot{
		Timestamp:  ts,
		Sequence:   c.seq.Add(1),
		Categories: make(map[string]models.MCollectorSnapshot, len(results)),
	}
	for _, snap := range results {
		composite.Categories[snap.Category] = snap
	}

	c.latestMu.Lock()
	c.latest = composite
	c.latestMu.Unlock()

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(composite, "all")
	}
	if m := c.opts.Metrics; m != nil {
		m.PollTicks.Inc()
		m.TickDuration.Observe(time.Since(begin).Seconds())
	}
	return composite
}

// snapshotOne never waits longer than timeout. A collector that is not ready,
// too slow, or panics contributes an empty stale snapshot. The goroutine of a
// slow Snapshot is left to finish on its own; its result is discarded.
func (c *Coordinator) snapshotOne(ctx context.Context, col interfaces.ICollector, ts time.Time, timeout time.Duration) models.MCollectorSnapshot {
	category := col.Category()
	if !col.IsReady() {
		return models.EmptySnapshot(category, ts)
	}

	ch := make(chan models.MCollectorSnapshot, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Collector %s panicked in Snapshot: %v", col.Name(), r)
				ch <- models.EmptySnapshot(category, ts)
			}
		}()
		ch <- col.Snapshot()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case snap := <-ch:
		snap.Category = category
		if snap.Fields == nil {
			snap.Fields = map[string]interface{}{}
		}
		return snap
	case <-timer.C:
		if m := c.opts.Metrics; m != nil {
			m.SnapshotTimeouts.WithLabelValues(category).Inc()
		}
		c.logger.Debug("Snapshot of %s exceeded %s", col.Name(), timeout)
		return models.EmptySnapshot(category, ts)
	case <-ctx.Done():
		return models.EmptySnapshot(category, ts)
	}
}

// -----------------------------------------------------------------------------
// Housekeeping
// -----------------------------------------------------------------------------

func (c *Coordinator) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.CleanupIntervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Coordinator) cleanup(ctx context.Context) {
	retention := time.Duration(c.opts.RetentionDays) * 24 * time.Hour
	if err := c.opts.Store.CleanupOldData(ctx, retention); err != nil {
		c.logger.Error("Retention cleanup failed: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Read side
// -----------------------------------------------------------------------------

// CompositeSnapshot returns the latest merged snapshot. Before the first tick
// every category is reported empty and stale.
func (c *Coordinator) CompositeSnapshot() models.MCompositeSnapshot {
	c.latestMu.RLock()
	latest := c.latest
	c.latestMu.RUnlock()

	out := models.MCompositeSnapshot{
		Timestamp:  latest.Timestamp,
		Sequence:   latest.Sequence,
		Categories: make(map[string]models.MCollectorSnapshot, len(c.collectors)),
	}
	if latest.Categories == nil {
		for _, col := range c.collectors {
			out.Categories[col.Category()] = models.EmptySnapshot(col.Category(), time.Time{})
		}
		return out
	}
	for k, v := range latest.Categories {
		out.Categories[k] = v
	}
	return out
}

func (c *Coordinator) CollectorStatuses() []models.MCollectorStatus {
	out := make([]models.MCollectorStatus, 0, len(c.collectors))
	for _, col := range c.collectors {
		out = append(out, col.Status())
	}
	return out
}

// StartFailures maps collector name to the error of its last Start.
func (c *Coordinator) StartFailures() map[string]error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	out := make(map[string]error, len(c.startFailures))
	for k, v := range c.startFailures {
		out[k] = v
	}
	return out
}

var _ interfaces.ISnapshotProvider = (*Coordinator)(nil)
