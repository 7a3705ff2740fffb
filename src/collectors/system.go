package collectors

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"time"

	"telemetry-backbone/src/bridge"
	"telemetry-backbone/src/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSample is one reading of host resources. Fields a probe failed to read stay zero.
type HostSample struct {
	Hostname      string
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
	UptimeSeconds uint64
}

// HostSampler reads host resources. Partial results come back together with
// the joined errors of the probes that failed.
type HostSampler func(ctx context.Context) (HostSample, error)

// GopsutilSampler samples the local host; diskPath selects the filesystem.
func GopsutilSampler(diskPath string) HostSampler {
	return func(ctx context.Context) (HostSample, error) {
		var s HostSample
		var errs []error

		if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
			errs = append(errs, err)
		} else if len(pct) > 0 {
			s.CPUPercent = pct[0]
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
			errs = append(errs, err)
		} else {
			s.MemoryPercent = vm.UsedPercent
		}
		if du, err := disk.UsageWithContext(ctx, diskPath); err != nil {
			errs = append(errs, err)
		} else {
			s.DiskPercent = du.UsedPercent
		}
		if avg, err := load.AvgWithContext(ctx); err == nil {
			s.Load1 = avg.Load1
		}
		if info, err := host.InfoWithContext(ctx); err != nil {
			errs = append(errs, err)
		} else {
			s.Hostname = info.Hostname
			s.UptimeSeconds = info.Uptime
		}
		return s, errors.Join(errs...)
	}
}

// -----------------------------------------------------------------------------

// SystemCollector samples host and process resources and, optionally, gauges
// scraped from neighbouring processes.
type SystemCollector struct {
	lifecycle
	cfg     models.MSystemConfig
	sampler HostSampler
	source  *bridgeSource
	rows    *BatchBuffer

	mu         sync.Mutex
	host       HostSample
	goroutines int
	heapMB     float64
	gcCycles   uint32
	sampledAt  time.Time
	external   map[string]float64
}

// NewSystemCollector builds the collector. A nil sampler means gopsutil; b may be nil.
func NewSystemCollector(cfg models.MSystemConfig, sampler HostSampler, b *bridge.Bridge, opts Options) *SystemCollector {
	if sampler == nil {
		sampler = GopsutilSampler(cfg.DiskPath)
	}
	c := &SystemCollector{
		cfg:      cfg,
		sampler:  sampler,
		source:   newBridgeSource(b, cfg.Bridge),
		external: make(map[string]float64),
	}
	c.init("system", models.SnapshotSystem, opts)
	c.rows = c.newBuffer(models.CategorySystemMetrics)
	return c
}

func (c *SystemCollector) Start(ctx context.Context) error {
	loops := []func(context.Context){c.sampleLoop, c.flushLoop(c.opts.FlushInterval)}
	if c.source != nil {
		loops = append(loops, c.source.loop(&c.lifecycle, c.applySamples))
	}
	return c.start(ctx, func(ctx context.Context) error {
		if err := c.source.probe(ctx, &c.lifecycle); err != nil {
			return err
		}
		c.sample(ctx, time.Now().UTC())
		return nil
	}, loops...)
}

func (c *SystemCollector) Stop(ctx context.Context) error {
	return c.stop(ctx)
}

// -----------------------------------------------------------------------------

func (c *SystemCollector) sampleLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.SampleIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sample(ctx, now.UTC())
		}
	}
}

// sample takes one reading; I/O happens before the state lock is taken.
func (c *SystemCollector) sample(ctx context.Context, now time.Time) {
	hs, err := c.sampler(ctx)
	if err != nil {
		c.recordError(err)
		c.logger.Debug("host sample incomplete: %v", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines := runtime.NumGoroutine()
	heapMB := float64(ms.HeapAlloc) / (1 << 20)

	c.mu.Lock()
	if hs.Hostname == "" {
		hs.Hostname = c.host.Hostname
	}
	c.host = hs
	c.goroutines = goroutines
	c.heapMB = heapMB
	c.gcCycles = ms.NumGC
	c.sampledAt = now
	c.mu.Unlock()

	hostname := hs.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	c.rows.Add(models.MSystemMetric{
		Timestamp:     now,
		Host:          hostname,
		CPUPercent:    hs.CPUPercent,
		MemoryPercent: hs.MemoryPercent,
		DiskPercent:   hs.DiskPercent,
		Goroutines:    int64(goroutines),
		HeapAllocMB:   heapMB,
	})
	c.addSamples(1)
}

// applySamples replaces the external series with the latest scrape round.
func (c *SystemCollector) applySamples(samples []models.MMetricSample) {
	ext := make(map[string]float64, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		ext[bridge.SeriesKey(s.Name, s.Labels)] = s.Value
	}

	c.mu.Lock()
	c.external = ext
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *SystemCollector) Snapshot() models.MCollectorSnapshot {
	c.mu.Lock()
	external := make(map[string]interface{}, len(c.external))
	for k, v := range c.external {
		external[k] = v
	}
	fields := map[string]interface{}{
		"hostname":       c.host.Hostname,
		"cpu_percent":    c.host.CPUPercent,
		"memory_percent": c.host.MemoryPercent,
		"disk_percent":   c.host.DiskPercent,
		"load1":          c.host.Load1,
		"uptime_seconds": c.host.UptimeSeconds,
		"goroutines":     c.goroutines,
		"heap_alloc_mb":  c.heapMB,
		"gc_cycles":      c.gcCycles,
		"sampled_at":     c.sampledAt,
		"external":       external,
	}
	c.mu.Unlock()

	if bf := c.source.fields(); bf != nil {
		fields["bridge"] = bf
	}
	return models.MCollectorSnapshot{
		Category:  c.category,
		Timestamp: c.stamp(time.Now().UTC()),
		Fields:    fields,
	}
}
