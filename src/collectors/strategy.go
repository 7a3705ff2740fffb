package collectors

import (
	"context"
	"strings"
	"sync"
	"time"

	"telemetry-backbone/src/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type position struct {
	qty     decimal.Decimal // signed, long > 0
	avgCost decimal.Decimal
}

type strategyState struct {
	signals  int64
	trades   int64
	wins     int64
	losses   int64
	realized decimal.Decimal
	books    map[string]*position // by symbol

	lastSignal models.MSignalEvent

	// since the previous roll-up row
	windowSignals int64
	windowTrades  int64
}

func (s *strategyState) netPosition() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.books {
		total = total.Add(p.qty)
	}
	return total
}

func (s *strategyState) winRate() float64 {
	closed := s.wins + s.losses
	if closed == 0 {
		return 0
	}
	return float64(s.wins) / float64(closed)
}

// -----------------------------------------------------------------------------

// StrategyCollector aggregates signals and trades reported by strategies.
// PnL is tracked with average-cost accounting in decimal arithmetic.
type StrategyCollector struct {
	lifecycle
	rollups *BatchBuffer
	trades  *BatchBuffer

	mu         sync.Mutex
	strategies map[string]*strategyState
}

func NewStrategyCollector(cfg models.MStrategyConfig, opts Options) *StrategyCollector {
	c := &StrategyCollector{strategies: make(map[string]*strategyState)}
	c.init("strategy", models.SnapshotStrategy, opts)
	c.rollups = c.newBuffer(models.CategoryStrategyMetrics)
	c.trades = c.newBuffer(models.CategoryTrades)
	c.drain = c.rollup

	for _, name := range cfg.Strategies {
		c.strategies[name] = newStrategyState()
	}
	return c
}

func newStrategyState() *strategyState {
	return &strategyState{books: make(map[string]*position)}
}

func (c *StrategyCollector) Start(ctx context.Context) error {
	return c.start(ctx, nil, c.rollupLoop, c.flushLoop(c.opts.FlushInterval))
}

func (c *StrategyCollector) Stop(ctx context.Context) error {
	return c.stop(ctx)
}

// -----------------------------------------------------------------------------

func (c *StrategyCollector) RecordSignal(ev models.MSignalEvent) {
	if err := ev.Validate(); err != nil {
		c.recordError(err)
		return
	}
	ev.Direction = strings.ToLower(ev.Direction)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	st := c.state(ev.Strategy)
	st.signals++
	st.windowSignals++
	st.lastSignal = ev
	c.mu.Unlock()

	c.addSamples(1)
}

// -----------------------------------------------------------------------------

// RecordTrade updates the strategy book and persists the trade. A trade that
// reduces a position realises PnL against the average cost; any excess opens
// a new position at the trade price.
func (c *StrategyCollector) RecordTrade(ev models.MTradeEvent) {
	if err := ev.Validate(); err != nil {
		c.recordError(err)
		return
	}
	ev.Side = strings.ToLower(ev.Side)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.TradeID == "" {
		ev.TradeID = uuid.NewString()
	}

	qty := decimal.NewFromFloat(ev.Quantity)
	price := decimal.NewFromFloat(ev.Price)
	if ev.Side == "sell" {
		qty = qty.Neg()
	}

	c.mu.Lock()
	st := c.state(ev.Strategy)
	book, ok := st.books[ev.Symbol]
	if !ok {
		book = &position{}
		st.books[ev.Symbol] = book
	}
	pnl := applyFill(book, qty, price)
	st.realized = st.realized.Add(pnl)
	st.trades++
	st.windowTrades++
	switch pnl.Sign() {
	case 1:
		st.wins++
	case -1:
		st.losses++
	}
	c.mu.Unlock()

	pnlF, _ := pnl.Float64()
	c.trades.Add(models.MTrade{
		Timestamp: ev.Timestamp,
		TradeID:   ev.TradeID,
		Strategy:  ev.Strategy,
		Symbol:    ev.Symbol,
		Side:      ev.Side,
		Quantity:  ev.Quantity,
		Price:     ev.Price,
		PnL:       pnlF,
	})
	c.addSamples(1)
}

// applyFill moves book by the signed qty at price and returns the realised PnL.
func applyFill(book *position, qty, price decimal.Decimal) decimal.Decimal {
	if book.qty.IsZero() || book.qty.Sign() == qty.Sign() {
		total := book.qty.Add(qty)
		cost := book.avgCost.Mul(book.qty.Abs()).Add(price.Mul(qty.Abs()))
		book.avgCost = cost.Div(total.Abs())
		book.qty = total
		return decimal.Zero
	}

	closing := decimal.Min(qty.Abs(), book.qty.Abs())
	pnl := price.Sub(book.avgCost).Mul(closing)
	if book.qty.IsNegative() {
		pnl = pnl.Neg()
	}

	remaining := book.qty.Add(qty)
	switch {
	case remaining.IsZero():
		book.avgCost = decimal.Zero
	case remaining.Sign() != book.qty.Sign():
		// flipped through zero
		book.avgCost = price
	}
	book.qty = remaining
	return pnl
}

// -----------------------------------------------------------------------------

// state must be called with c.mu held.
func (c *StrategyCollector) state(name string) *strategyState {
	st, ok := c.strategies[name]
	if !ok {
		st = newStrategyState()
		c.strategies[name] = st
	}
	return st
}

func (c *StrategyCollector) rollupLoop(ctx context.Context) {
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

// rollup emits one strategy_metrics row per strategy and resets the window.
func (c *StrategyCollector) rollup(now time.Time) {
	c.mu.Lock()
	rows := make([]models.PersistenceRecord, 0, len(c.strategies))
	for _, name := range sortedKeys(c.strategies) {
		st := c.strategies[name]
		pos, _ := st.netPosition().Float64()
		pnl, _ := st.realized.Float64()
		rows = append(rows, models.MStrategyMetric{
			Timestamp:   now,
			Strategy:    name,
			Signals:     st.windowSignals,
			Trades:      st.windowTrades,
			Position:    pos,
			RealizedPnL: pnl,
			WinRate:     st.winRate(),
		})
		st.windowSignals = 0
		st.windowTrades = 0
	}
	c.mu.Unlock()

	c.rollups.Add(rows...)
}

// -----------------------------------------------------------------------------

func (c *StrategyCollector) Snapshot() models.MCollectorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	strategies := make(map[string]interface{}, len(c.strategies))
	var totalSignals, totalTrades int64
	totalPnL := decimal.Zero
	for name, st := range c.strategies {
		positions := make(map[string]interface{}, len(st.books))
		for sym, book := range st.books {
			qty, _ := book.qty.Float64()
			cost, _ := book.avgCost.Float64()
			positions[sym] = map[string]interface{}{"quantity": qty, "avg_cost": cost}
		}
		pos, _ := st.netPosition().Float64()
		pnl, _ := st.realized.Float64()

		fields := map[string]interface{}{
			"signals":      st.signals,
			"trades":       st.trades,
			"wins":         st.wins,
			"losses":       st.losses,
			"win_rate":     st.winRate(),
			"position":     pos,
			"positions":    positions,
			"realized_pnl": pnl,
		}
		if !st.lastSignal.Timestamp.IsZero() {
			fields["last_signal"] = map[string]interface{}{
				"symbol":    st.lastSignal.Symbol,
				"direction": st.lastSignal.Direction,
				"strength":  st.lastSignal.Strength,
				"at":        st.lastSignal.Timestamp,
			}
		}
		strategies[name] = fields

		totalSignals += st.signals
		totalTrades += st.trades
		totalPnL = totalPnL.Add(st.realized)
	}
	pnl, _ := totalPnL.Float64()

	return models.MCollectorSnapshot{
		Category:  c.category,
		Timestamp: c.stamp(time.Now().UTC()),
		Fields: map[string]interface{}{
			"strategies":         strategies,
			"total_signals":      totalSignals,
			"total_trades":       totalTrades,
			"total_realized_pnl": pnl,
		},
	}
}
