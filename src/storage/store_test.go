package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "telemetry.db")}
	s, err := NewSQLStore(cfg, logger.NewDiscardLogger("store"))
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n))
	return n
}

var base = time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)

func mtick(sym string, at time.Time, price, volume float64) models.MMarketTick {
	return models.MMarketTick{Timestamp: at, Symbol: sym, Price: price, Volume: volume, Bid: price - 0.01, Ask: price + 0.01}
}

// -----------------------------------------------------------------------------

func TestInitializeIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), mtick("AAPL", base, 100, 1)))

	// a second Initialize on the same file keeps the data
	s2, err := NewSQLStore(s.Config, logger.NewDiscardLogger("store"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s2.Initialize(context.Background()))
	defer s2.Close()
	assert.Equal(t, 1, countRows(t, s2, "market_data"))

	for _, c := range models.AllCategories[1:] {
		assert.Equal(t, 0, countRows(t, s2, string(c)), c)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := mtick("AAPL", base, 100, 10)
	require.NoError(t, s.SaveBatch(ctx, models.CategoryMarketData, []models.PersistenceRecord{rec}))
	require.NoError(t, s.SaveBatch(ctx, models.CategoryMarketData, []models.PersistenceRecord{rec}))
	assert.Equal(t, 1, countRows(t, s, "market_data"))

	// same key, new value: replaced
	rec.Price = 101
	require.NoError(t, s.Save(ctx, rec))
	assert.Equal(t, 1, countRows(t, s, "market_data"))

	var price float64
	require.NoError(t, s.DB.QueryRow(`SELECT price FROM "market_data" WHERE symbol = ?`, "AAPL").Scan(&price))
	assert.Equal(t, 101.0, price)
}

func TestSaveBatchEveryCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, models.MStrategyMetric{Timestamp: base, Strategy: "momentum", Signals: 3, Trades: 1, Position: 5, RealizedPnL: 12.5, WinRate: 1}))
	require.NoError(t, s.Save(ctx, models.MExecutionMetric{Timestamp: base, Venue: "XNAS", Orders: 10, Fills: 9, Rejects: 1, LatencyP50Ms: 1.2, LatencyP99Ms: 8, SlippageBps: 0.4}))
	require.NoError(t, s.Save(ctx, models.MSystemMetric{Timestamp: base, Host: "h", CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30, Goroutines: 40, HeapAllocMB: 5}))
	require.NoError(t, s.Save(ctx, models.MTrade{Timestamp: base, TradeID: "t-1", Strategy: "momentum", Symbol: "AAPL", Side: "buy", Quantity: 5, Price: 100}))

	for _, c := range []string{"strategy_metrics", "execution_metrics", "system_metrics", "trades"} {
		assert.Equal(t, 1, countRows(t, s, c), c)
	}
}

// wrongRecord claims the market_data table but carries too few values.
type wrongRecord struct{ models.MMarketTick }

func (wrongRecord) Values() []interface{} { return []interface{}{1.0} }

func TestSaveBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []models.PersistenceRecord{
		mtick("AAPL", base, 100, 1),
		mtick("MSFT", base, 200, 1),
		wrongRecord{mtick("NVDA", base, 300, 1)},
	}
	err := s.SaveBatch(ctx, models.CategoryMarketData, batch)
	require.Error(t, err)
	var pErr *helpers.PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "market_data", pErr.Table)
	assert.Equal(t, 3, pErr.Rows)
	assert.Equal(t, 0, countRows(t, s, "market_data"))

	// a record from another table poisons the batch too
	err = s.SaveBatch(ctx, models.CategoryMarketData, []models.PersistenceRecord{
		mtick("AAPL", base, 100, 1),
		models.MTrade{Timestamp: base, TradeID: "x"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, countRows(t, s, "market_data"))
}

func TestSaveBatchUnknownCategory(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveBatch(context.Background(), models.Category("orders"), []models.PersistenceRecord{mtick("AAPL", base, 1, 1)})
	require.Error(t, err)
	assert.NoError(t, s.SaveBatch(context.Background(), models.Category("orders"), nil))
}

func TestConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			batch := make([]models.PersistenceRecord, 0, 50)
			for i := 0; i < 50; i++ {
				batch = append(batch, mtick(fmt.Sprintf("SYM%d", w), base.Add(time.Duration(i)*time.Second), 100, 1))
			}
			return s.SaveBatch(ctx, models.CategoryMarketData, batch)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 400, countRows(t, s, "market_data"))
}

// -----------------------------------------------------------------------------

func TestQueryBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []models.PersistenceRecord{
		mtick("AAPL", base.Add(5*time.Second), 100, 10),
		mtick("AAPL", base.Add(30*time.Second), 104, 20),
		mtick("AAPL", base.Add(70*time.Second), 110, 5),
		mtick("MSFT", base.Add(10*time.Second), 400, 1),
		// outside [start, end)
		mtick("AAPL", base.Add(3*time.Minute), 1, 1),
	}
	require.NoError(t, s.SaveBatch(ctx, models.CategoryMarketData, batch))

	rows, err := s.Query(ctx, models.MQueryRequest{
		Category:      models.CategoryMarketData,
		Start:         base,
		End:           base.Add(3 * time.Minute),
		Discriminator: "AAPL",
		Bucket:        models.BucketMinute,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, base, rows[0].BucketStart)
	assert.Equal(t, int64(2), rows[0].Count)
	assert.Equal(t, 102.0, rows[0].Fields["price_avg"])
	assert.Equal(t, 100.0, rows[0].Fields["price_min"])
	assert.Equal(t, 104.0, rows[0].Fields["price_max"])
	assert.Equal(t, 30.0, rows[0].Fields["volume_sum"])

	assert.Equal(t, base.Add(time.Minute), rows[1].BucketStart)
	assert.Equal(t, int64(1), rows[1].Count)

	// no discriminator: MSFT joins the first bucket
	rows, err = s.Query(ctx, models.MQueryRequest{
		Category: models.CategoryMarketData,
		Start:    base,
		End:      base.Add(3 * time.Minute),
		Bucket:   models.BucketHour,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].Count)
	assert.Equal(t, 400.0, rows[0].Fields["price_max"])
}

func TestQueryCounterColumnsSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveBatch(ctx, models.CategoryExecutionMetrics, []models.PersistenceRecord{
		models.MExecutionMetric{Timestamp: base, Venue: "XNAS", Orders: 10, Fills: 8, LatencyP99Ms: 4},
		models.MExecutionMetric{Timestamp: base.Add(2 * time.Second), Venue: "XNAS", Orders: 5, Fills: 5, LatencyP99Ms: 9},
	}))

	rows, err := s.Query(ctx, models.MQueryRequest{
		Category: models.CategoryExecutionMetrics,
		Start:    base,
		End:      base.Add(time.Hour),
		Bucket:   models.BucketDay,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 15.0, rows[0].Fields["orders_sum"])
	assert.Equal(t, 13.0, rows[0].Fields["fills_sum"])
	assert.Equal(t, 9.0, rows[0].Fields["latency_p99_ms_max"])
}

func TestQueryValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Query(ctx, models.MQueryRequest{Category: "nope", Start: base, End: base.Add(time.Hour), Bucket: models.BucketMinute})
	assert.Error(t, err)
	_, err = s.Query(ctx, models.MQueryRequest{Category: models.CategoryMarketData, Start: base, End: base.Add(time.Hour), Bucket: "week"})
	assert.Error(t, err)
	_, err = s.Query(ctx, models.MQueryRequest{Category: models.CategoryMarketData, Start: base, End: base, Bucket: models.BucketMinute})
	assert.Error(t, err)

	rows, err := s.Query(ctx, models.MQueryRequest{Category: models.CategoryTrades, Start: base, End: base.Add(time.Hour), Bucket: models.BucketMinute})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// -----------------------------------------------------------------------------

func TestCleanupOldData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveBatch(ctx, models.CategoryMarketData, []models.PersistenceRecord{
		mtick("AAPL", now.Add(-10*24*time.Hour), 100, 1),
		mtick("AAPL", now.Add(-time.Hour), 100, 1),
	}))
	require.NoError(t, s.Save(ctx, models.MTrade{Timestamp: now.Add(-30 * 24 * time.Hour), TradeID: "old"}))

	require.NoError(t, s.CleanupOldData(ctx, 7*24*time.Hour))
	assert.Equal(t, 1, countRows(t, s, "market_data"))
	assert.Equal(t, 0, countRows(t, s, "trades"))
}

func TestUninitializedStore(t *testing.T) {
	s, err := NewSQLStore(models.MStorageConfig{DBType: "sqlite", DBPath: "unused.db"}, logger.NewDiscardLogger("store"))
	require.NoError(t, err)
	assert.Error(t, s.Save(context.Background(), mtick("AAPL", base, 1, 1)))
	assert.Error(t, s.CleanupOldData(context.Background(), time.Hour))
	assert.NoError(t, s.Close())

	_, err = NewSQLStore(models.MStorageConfig{DBType: "mysql"}, nil)
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestPostgresStatements(t *testing.T) {
	s, err := NewSQLStore(models.MStorageConfig{DBType: "postgres", DBConnectionString: "postgres://localhost/x", Schema: "desk"}, logger.NewDiscardLogger("store"))
	require.NoError(t, err)

	upsert := s.upsertSQL(schemas[models.CategoryExecutionMetrics])
	assert.True(t, strings.HasPrefix(upsert, `INSERT INTO "desk"."execution_metrics" ("timestamp", "venue", "orders"`), upsert)
	assert.Contains(t, upsert, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8)")
	assert.Contains(t, upsert, `ON CONFLICT ("timestamp", "venue") DO UPDATE SET "orders" = excluded."orders"`)

	ddl := s.createTableSQL(schemas[models.CategoryTrades])
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "desk"."trades"`)
	assert.Contains(t, ddl, `"timestamp" BIGINT NOT NULL`)
	assert.Contains(t, ddl, `"pnl" DOUBLE PRECISION`)
	assert.Contains(t, ddl, `PRIMARY KEY ("timestamp", "trade_id")`)
}
