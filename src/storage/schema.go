package storage

import (
	"fmt"

	"telemetry-backbone/src/models"
)

type columnType int

const (
	typeReal columnType = iota
	typeInteger
	typeText
)

// Aggregations applied by Query.
const (
	aggAvg = "avg"
	aggMin = "min"
	aggMax = "max"
	aggSum = "sum"
)

var (
	gauge   = []string{aggAvg, aggMin, aggMax}
	counter = []string{aggSum}
)

type column struct {
	name string
	typ  columnType
	aggs []string
}

// tableSchema describes one category table. Columns lists the value columns
// in the order PersistenceRecord.Values returns them.
type tableSchema struct {
	table         models.Category
	discriminator string
	columns       []column
}

// -----------------------------------------------------------------------------

var schemas = map[models.Category]tableSchema{
	models.CategoryMarketData: {
		table:         models.CategoryMarketData,
		discriminator: "symbol",
		columns: []column{
			{"price", typeReal, gauge},
			{"volume", typeReal, counter},
			{"bid", typeReal, gauge},
			{"ask", typeReal, gauge},
		},
	},
	models.CategoryStrategyMetrics: {
		table:         models.CategoryStrategyMetrics,
		discriminator: "strategy",
		columns: []column{
			{"signals", typeInteger, counter},
			{"trades", typeInteger, counter},
			{"position", typeReal, gauge},
			{"realized_pnl", typeReal, gauge},
			{"win_rate", typeReal, []string{aggAvg}},
		},
	},
	models.CategoryExecutionMetrics: {
		table:         models.CategoryExecutionMetrics,
		discriminator: "venue",
		columns: []column{
			{"orders", typeInteger, counter},
			{"fills", typeInteger, counter},
			{"rejects", typeInteger, counter},
			{"latency_p50_ms", typeReal, gauge},
			{"latency_p99_ms", typeReal, []string{aggAvg, aggMax}},
			{"slippage_bps", typeReal, []string{aggAvg}},
		},
	},
	models.CategorySystemMetrics: {
		table:         models.CategorySystemMetrics,
		discriminator: "host",
		columns: []column{
			{"cpu_percent", typeReal, gauge},
			{"memory_percent", typeReal, gauge},
			{"disk_percent", typeReal, gauge},
			{"goroutines", typeInteger, []string{aggAvg, aggMax}},
			{"heap_alloc_mb", typeReal, gauge},
		},
	},
	models.CategoryTrades: {
		table:         models.CategoryTrades,
		discriminator: "trade_id",
		columns: []column{
			{"strategy", typeText, nil},
			{"symbol", typeText, nil},
			{"side", typeText, nil},
			{"quantity", typeReal, counter},
			{"price", typeReal, []string{aggAvg, aggMin, aggMax}},
			{"pnl", typeReal, counter},
		},
	},
}

func schemaFor(category models.Category) (tableSchema, error) {
	s, ok := schemas[category]
	if !ok {
		return tableSchema{}, fmt.Errorf("unknown category %q", string(category))
	}
	return s, nil
}
