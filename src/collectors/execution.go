package collectors

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"telemetry-backbone/src/bridge"
	"telemetry-backbone/src/models"

	"github.com/influxdata/tdigest"
)

const digestCompression = 100

// bridge series understood by the execution collector
const (
	seriesOrders  = "orders_total"
	seriesFills   = "fills_total"
	seriesRejects = "rejects_total"
	seriesLatency = "order_latency_ms"
)

type venueState struct {
	orders  int64
	fills   int64
	rejects int64
	latency *tdigest.TDigest // since start

	windowOrders   int64
	windowFills    int64
	windowRejects  int64
	windowLatency  *tdigest.TDigest
	windowSlipSum  float64
	windowSlipN    int64
	slipSum        float64
	slipN          int64
	lastReject     string
	lastRejectTime time.Time

	// last raw counter values seen from the bridge, by series name
	counters map[string]float64
}

func newVenueState() *venueState {
	return &venueState{
		latency:       tdigest.NewWithCompression(digestCompression),
		windowLatency: tdigest.NewWithCompression(digestCompression),
		counters:      make(map[string]float64),
	}
}

func quantile(td *tdigest.TDigest, q float64) float64 {
	if td.Count() == 0 {
		return 0
	}
	return td.Quantile(q)
}

// -----------------------------------------------------------------------------

// ExecutionCollector tracks order flow per venue from direct events and,
// optionally, from counters scraped off the execution engine.
type ExecutionCollector struct {
	lifecycle
	source  *bridgeSource
	rollups *BatchBuffer

	mu     sync.Mutex
	venues map[string]*venueState
}

// NewExecutionCollector builds the collector; b may be nil when no bridge is configured.
func NewExecutionCollector(cfg models.MExecutionConfig, b *bridge.Bridge, opts Options) *ExecutionCollector {
	c := &ExecutionCollector{
		source: newBridgeSource(b, cfg.Bridge),
		venues: make(map[string]*venueState),
	}
	c.init("execution", models.SnapshotExecution, opts)
	c.rollups = c.newBuffer(models.CategoryExecutionMetrics)
	c.drain = c.rollup

	for _, v := range cfg.Venues {
		c.venues[v] = newVenueState()
	}
	return c
}

func (c *ExecutionCollector) Start(ctx context.Context) error {
	loops := []func(context.Context){c.rollupLoop, c.flushLoop(c.opts.FlushInterval)}
	if c.source != nil {
		loops = append(loops, c.source.loop(&c.lifecycle, c.applySamples))
	}
	return c.start(ctx, func(ctx context.Context) error {
		return c.source.probe(ctx, &c.lifecycle)
	}, loops...)
}

func (c *ExecutionCollector) Stop(ctx context.Context) error {
	return c.stop(ctx)
}

// -----------------------------------------------------------------------------

func (c *ExecutionCollector) RecordExecution(ev models.MExecutionEvent) {
	if err := ev.Validate(); err != nil {
		c.recordError(err)
		return
	}
	ev.Kind = strings.ToLower(ev.Kind)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	st := c.venue(ev.Venue)
	switch ev.Kind {
	case models.ExecutionOrder:
		st.orders++
		st.windowOrders++
	case models.ExecutionFill:
		st.fills++
		st.windowFills++
		st.slipSum += ev.SlippageBps
		st.slipN++
		st.windowSlipSum += ev.SlippageBps
		st.windowSlipN++
	case models.ExecutionReject:
		st.rejects++
		st.windowRejects++
		st.lastReject = ev.Reason
		st.lastRejectTime = ev.Timestamp
	}
	if ev.LatencyMs > 0 && !math.IsInf(ev.LatencyMs, 0) {
		st.latency.Add(ev.LatencyMs, 1)
		st.windowLatency.Add(ev.LatencyMs, 1)
	}
	c.mu.Unlock()

	c.addSamples(1)
}

// -----------------------------------------------------------------------------

// applySamples folds one scrape round in. Counters are converted to deltas
// against the previous scrape; a decrease is treated as a counter reset.
// Counter values that are not finite or do not fit an int64 are dropped
// without moving the baseline.
func (c *ExecutionCollector) applySamples(samples []models.MMetricSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range samples {
		venue := s.Label("venue")
		if venue == "" || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}

		switch s.Name {
		case seriesOrders, seriesFills, seriesRejects:
			if s.Value < 0 || s.Value >= maxCounterValue {
				continue
			}
			st := c.venue(venue)
			key := bridge.SeriesKey(s.Name, s.Labels)
			prev, seen := st.counters[key]
			st.counters[key] = s.Value
			if !seen {
				continue
			}
			delta := s.Value - prev
			if delta < 0 {
				delta = s.Value
			}
			n := int64(delta)
			switch s.Name {
			case seriesOrders:
				st.orders = addCount(st.orders, n)
				st.windowOrders = addCount(st.windowOrders, n)
			case seriesFills:
				st.fills = addCount(st.fills, n)
				st.windowFills = addCount(st.windowFills, n)
			case seriesRejects:
				st.rejects = addCount(st.rejects, n)
				st.windowRejects = addCount(st.windowRejects, n)
			}
		case seriesLatency:
			obs := s.Observations
			if s.Kind != models.KindHistogram || len(obs) == 0 {
				obs = []float64{s.Value}
			}
			st := c.venue(venue)
			for _, v := range obs {
				if v > 0 && !math.IsInf(v, 0) {
					st.latency.Add(v, 1)
					st.windowLatency.Add(v, 1)
				}
			}
		}
	}
}

// maxCounterValue is 2^63, the first float64 outside the int64 range.
const maxCounterValue = float64(1 << 63)

// addCount adds without wrapping past math.MaxInt64.
func addCount(total, n int64) int64 {
	if n > math.MaxInt64-total {
		return math.MaxInt64
	}
	return total + n
}

// venue must be called with c.mu held.
func (c *ExecutionCollector) venue(name string) *venueState {
	st, ok := c.venues[name]
	if !ok {
		st = newVenueState()
		c.venues[name] = st
	}
	return st
}

// -----------------------------------------------------------------------------

func (c *ExecutionCollector) rollupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.rollup(now.UTC())
		}
	}
}

// rollup emits one execution_metrics row per venue and resets the window.
func (c *ExecutionCollector) rollup(now time.Time) {
	c.mu.Lock()
	rows := make([]models.PersistenceRecord, 0, len(c.venues))
	for _, name := range sortedKeys(c.venues) {
		st := c.venues[name]
		slip := 0.0
		if st.windowSlipN > 0 {
			slip = st.windowSlipSum / float64(st.windowSlipN)
		}
		rows = append(rows, models.MExecutionMetric{
			Timestamp:    now,
			Venue:        name,
			Orders:       st.windowOrders,
			Fills:        st.windowFills,
			Rejects:      st.windowRejects,
			LatencyP50Ms: quantile(st.windowLatency, 0.5),
			LatencyP99Ms: quantile(st.windowLatency, 0.99),
			SlippageBps:  slip,
		})
		st.windowOrders, st.windowFills, st.windowRejects = 0, 0, 0
		st.windowSlipSum, st.windowSlipN = 0, 0
		st.windowLatency.Reset()
	}
	c.mu.Unlock()

	c.rollups.Add(rows...)
}

// -----------------------------------------------------------------------------

func (c *ExecutionCollector) Snapshot() models.MCollectorSnapshot {
	c.mu.Lock()
	venues := make(map[string]interface{}, len(c.venues))
	var orders, fills, rejects int64
	for name, st := range c.venues {
		fields := map[string]interface{}{
			"orders":         st.orders,
			"fills":          st.fills,
			"rejects":        st.rejects,
			"fill_rate":      ratio(st.fills, st.orders),
			"reject_rate":    ratio(st.rejects, st.orders),
			"latency_p50_ms": quantile(st.latency, 0.5),
			"latency_p90_ms": quantile(st.latency, 0.9),
			"latency_p99_ms": quantile(st.latency, 0.99),
			"slippage_bps":   0.0,
		}
		if st.slipN > 0 {
			fields["slippage_bps"] = st.slipSum / float64(st.slipN)
		}
		if st.lastReject != "" {
			fields["last_reject"] = st.lastReject
			fields["last_reject_at"] = st.lastRejectTime
		}
		venues[name] = fields
		orders += st.orders
		fills += st.fills
		rejects += st.rejects
	}
	c.mu.Unlock()

	fields := map[string]interface{}{
		"venues":        venues,
		"total_orders":  orders,
		"total_fills":   fills,
		"total_rejects": rejects,
	}
	if bf := c.source.fields(); bf != nil {
		fields["bridge"] = bf
	}

	return models.MCollectorSnapshot{
		Category:  c.category,
		Timestamp: c.stamp(time.Now().UTC()),
		Fields:    fields,
	}
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
