package models

import "time"

// -----------------------------------------------------------------------------
// PersistenceRecord
// -----------------------------------------------------------------------------

// PersistenceRecord is one flattened row. (RecordTime, Discriminator) is the
// primary key of its table; Values follows the column order of the table schema
// after the key columns.
type PersistenceRecord interface {
	Category() Category
	Discriminator() string
	RecordTime() time.Time
	Values() []interface{}
}

// -----------------------------------------------------------------------------

// MMarketTick is one quote/trade print for a symbol.
type MMarketTick struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
}

func (t MMarketTick) Category() Category    { return CategoryMarketData }
func (t MMarketTick) Discriminator() string { return t.Symbol }
func (t MMarketTick) RecordTime() time.Time { return t.Timestamp }
func (t MMarketTick) Values() []interface{} {
	return []interface{}{t.Price, t.Volume, t.Bid, t.Ask}
}

// -----------------------------------------------------------------------------

// MStrategyMetric is the per-interval roll-up of one strategy.
type MStrategyMetric struct {
	Timestamp   time.Time `json:"timestamp"`
	Strategy    string    `json:"strategy"`
	Signals     int64     `json:"signals"`
	Trades      int64     `json:"trades"`
	Position    float64   `json:"position"`
	RealizedPnL float64   `json:"realized_pnl"`
	WinRate     float64   `json:"win_rate"`
}

func (m MStrategyMetric) Category() Category    { return CategoryStrategyMetrics }
func (m MStrategyMetric) Discriminator() string { return m.Strategy }
func (m MStrategyMetric) RecordTime() time.Time { return m.Timestamp }
func (m MStrategyMetric) Values() []interface{} {
	return []interface{}{m.Signals, m.Trades, m.Position, m.RealizedPnL, m.WinRate}
}

// -----------------------------------------------------------------------------

// MExecutionMetric is the per-interval roll-up of one venue.
type MExecutionMetric struct {
	Timestamp    time.Time `json:"timestamp"`
	Venue        string    `json:"venue"`
	Orders       int64     `json:"orders"`
	Fills        int64     `json:"fills"`
	Rejects      int64     `json:"rejects"`
	LatencyP50Ms float64   `json:"latency_p50_ms"`
	LatencyP99Ms float64   `json:"latency_p99_ms"`
	SlippageBps  float64   `json:"slippage_bps"`
}

func (m MExecutionMetric) Category() Category    { return CategoryExecutionMetrics }
func (m MExecutionMetric) Discriminator() string { return m.Venue }
func (m MExecutionMetric) RecordTime() time.Time { return m.Timestamp }
func (m MExecutionMetric) Values() []interface{} {
	return []interface{}{m.Orders, m.Fills, m.Rejects, m.LatencyP50Ms, m.LatencyP99Ms, m.SlippageBps}
}

// -----------------------------------------------------------------------------

// MSystemMetric is one host resource sample.
type MSystemMetric struct {
	Timestamp     time.Time `json:"timestamp"`
	Host          string    `json:"host"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Goroutines    int64     `json:"goroutines"`
	HeapAllocMB   float64   `json:"heap_alloc_mb"`
}

func (m MSystemMetric) Category() Category    { return CategorySystemMetrics }
func (m MSystemMetric) Discriminator() string { return m.Host }
func (m MSystemMetric) RecordTime() time.Time { return m.Timestamp }
func (m MSystemMetric) Values() []interface{} {
	return []interface{}{m.CPUPercent, m.MemoryPercent, m.DiskPercent, m.Goroutines, m.HeapAllocMB}
}

// -----------------------------------------------------------------------------

// MTrade is one executed strategy trade.
type MTrade struct {
	Timestamp time.Time `json:"timestamp"`
	TradeID   string    `json:"trade_id"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
}

func (t MTrade) Category() Category    { return CategoryTrades }
func (t MTrade) Discriminator() string { return t.TradeID }
func (t MTrade) RecordTime() time.Time { return t.Timestamp }
func (t MTrade) Values() []interface{} {
	return []interface{}{t.Strategy, t.Symbol, t.Side, t.Quantity, t.Price, t.PnL}
}
