package collectors

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"telemetry-backbone/src/analysis/core"
	"telemetry-backbone/src/models"
	"telemetry-backbone/src/utils"
)

const sessionCheckInterval = 30 * time.Second

type symbolState struct {
	price       float64
	bid         float64
	ask         float64
	lastVolume  float64
	totalVolume float64
	open        float64
	high        float64
	low         float64
	ticks       uint64
	updated     time.Time
	prices      *utils.RingBuffer
	volumes     *utils.RingBuffer
}

// -----------------------------------------------------------------------------

// MarketDataCollector keeps the latest quote per symbol, fed either by its own
// random-walk simulation or by IngestTick.
type MarketDataCollector struct {
	lifecycle
	cfg       models.MMarketDataConfig
	scheduler *utils.MarketScheduler
	buffer    *BatchBuffer

	mu         sync.Mutex
	symbols    map[string]*symbolState
	marketOpen map[string]bool
	ticks      uint64
	rng        *rand.Rand
}

func NewMarketDataCollector(cfg models.MMarketDataConfig, opts Options) *MarketDataCollector {
	c := &MarketDataCollector{
		cfg:        cfg,
		symbols:    make(map[string]*symbolState, len(cfg.Symbols)),
		marketOpen: make(map[string]bool, len(cfg.Symbols)),
	}
	c.init("market_data", models.SnapshotMarketData, opts)
	c.buffer = c.newBuffer(models.CategoryMarketData)
	c.scheduler = utils.NewMarketScheduler(cfg.Symbols, c.logger)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.rng = rand.New(rand.NewSource(seed))
	for _, sym := range cfg.Symbols {
		c.symbols[sym] = c.newSymbol(50 + c.rng.Float64()*450)
	}
	return c
}

func (c *MarketDataCollector) newSymbol(price float64) *symbolState {
	size := c.cfg.HistorySize
	if size <= 0 {
		size = 600
	}
	return &symbolState{
		price:   price,
		bid:     price,
		ask:     price,
		open:    price,
		high:    price,
		low:     price,
		prices:  utils.NewRingBuffer(size),
		volumes: utils.NewRingBuffer(size),
	}
}

// -----------------------------------------------------------------------------

func (c *MarketDataCollector) Start(ctx context.Context) error {
	loops := []func(context.Context){c.sessionLoop, c.flushLoop(c.opts.FlushInterval)}
	if c.cfg.Simulate {
		loops = append(loops, c.simulateLoop)
	}
	return c.start(ctx, func(context.Context) error {
		c.refreshSessions(time.Now())
		return nil
	}, loops...)
}

func (c *MarketDataCollector) Stop(ctx context.Context) error {
	return c.stop(ctx)
}

// -----------------------------------------------------------------------------

// IngestTick applies one externally supplied quote.
func (c *MarketDataCollector) IngestTick(tick models.MMarketTick) {
	if err := tick.Validate(); err != nil {
		c.recordError(err)
		return
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now().UTC()
	}
	if tick.Bid <= 0 {
		tick.Bid = tick.Price
	}
	if tick.Ask <= 0 {
		tick.Ask = tick.Price
	}

	c.mu.Lock()
	c.apply(tick)
	c.mu.Unlock()

	c.buffer.Add(tick)
	c.addSamples(1)
}

// apply must be called with c.mu held.
func (c *MarketDataCollector) apply(tick models.MMarketTick) {
	st, ok := c.symbols[tick.Symbol]
	if !ok {
		st = c.newSymbol(tick.Price)
		c.symbols[tick.Symbol] = st
	}
	st.price = tick.Price
	st.bid = tick.Bid
	st.ask = tick.Ask
	st.lastVolume = tick.Volume
	st.totalVolume += tick.Volume
	st.high = math.Max(st.high, tick.Price)
	st.low = math.Min(st.low, tick.Price)
	st.ticks++
	st.updated = tick.Timestamp
	st.prices.Append(tick.Price)
	st.volumes.Append(tick.Volume)
	c.ticks++
}

// -----------------------------------------------------------------------------

func (c *MarketDataCollector) simulateLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.TickIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ticks := c.simulateStep(now.UTC())
			c.buffer.Add(ticks...)
			c.addSamples(len(ticks))
		}
	}
}

// simulateStep moves every symbol one geometric random-walk step.
func (c *MarketDataCollector) simulateStep(now time.Time) []models.PersistenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.PersistenceRecord, 0, len(c.symbols))
	for _, sym := range sortedKeys(c.symbols) {
		st := c.symbols[sym]
		price := st.price * math.Exp(0.0005*c.rng.NormFloat64())
		halfSpread := price * (0.5 + c.rng.Float64()*2) / 10000
		tick := models.MMarketTick{
			Timestamp: now,
			Symbol:    sym,
			Price:     price,
			Volume:    float64(100 + c.rng.Intn(900)),
			Bid:       price - halfSpread,
			Ask:       price + halfSpread,
		}
		c.apply(tick)
		out = append(out, tick)
	}
	return out
}

// -----------------------------------------------------------------------------

// sessionLoop refreshes the cached open/closed flags so Snapshot never has to
// evaluate calendars.
func (c *MarketDataCollector) sessionLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.refreshSessions(now)
		}
	}
}

func (c *MarketDataCollector) refreshSessions(now time.Time) {
	c.mu.Lock()
	syms := sortedKeys(c.symbols)
	c.mu.Unlock()

	open := make(map[string]bool, len(syms))
	for _, sym := range syms {
		open[sym] = c.scheduler.IsOpen(sym, now)
	}

	c.mu.Lock()
	c.marketOpen = open
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// symbolView is what Snapshot copies out of a symbolState under the lock.
type symbolView struct {
	symbolState
	marketOpen bool
	priceHist  []float64
	volumeHist []float64
}

// Snapshot copies state under the lock and runs the window analytics after
// releasing it, so ticks are never held up by the statistics.
func (c *MarketDataCollector) Snapshot() models.MCollectorSnapshot {
	c.mu.Lock()
	views := make(map[string]symbolView, len(c.symbols))
	for sym, st := range c.symbols {
		views[sym] = symbolView{
			symbolState: *st,
			marketOpen:  c.marketOpen[sym],
			priceHist:   st.prices.GetAll(),
			volumeHist:  st.volumes.GetAll(),
		}
	}
	ticks := c.ticks
	c.mu.Unlock()

	symbols := make(map[string]interface{}, len(views))
	anyOpen := false
	for sym, v := range views {
		mean, std := core.CalculateMeanStd(v.priceHist)
		anyOpen = anyOpen || v.marketOpen

		symbols[sym] = map[string]interface{}{
			"price":        v.price,
			"bid":          v.bid,
			"ask":          v.ask,
			"spread_bps":   core.SpreadBps(v.bid, v.ask),
			"volume":       v.totalVolume,
			"last_volume":  v.lastVolume,
			"change_pct":   core.CalculateChangePercent(v.price, v.open),
			"volatility":   core.RealizedVolatility(v.priceHist),
			"zscore":       core.CalculateZScore(v.price, mean, std),
			"session_high": v.high,
			"session_low":  v.low,
			"window":       core.ComputeOHLCV(v.priceHist, v.volumeHist),
			"history":      len(v.priceHist),
			"ticks":        v.ticks,
			"market_open":  v.marketOpen,
			"updated":      v.updated,
		}
	}

	return models.MCollectorSnapshot{
		Category:  c.category,
		Timestamp: c.stamp(time.Now().UTC()),
		Fields: map[string]interface{}{
			"symbols":         symbols,
			"symbol_count":    len(views),
			"ticks_processed": ticks,
			"any_market_open": anyOpen,
		},
	}
}

// -----------------------------------------------------------------------------

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
