package collectors

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"telemetry-backbone/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketConfig() models.MMarketDataConfig {
	return models.MMarketDataConfig{
		Enabled:        true,
		Symbols:        []string{"AAPL", "VOD.L"},
		TickIntervalMs: 5,
		HistorySize:    50,
		Simulate:       true,
		Seed:           42,
	}
}

func TestSimulationIsDeterministicForSeed(t *testing.T) {
	a := NewMarketDataCollector(marketConfig(), testOptions(nil))
	b := NewMarketDataCollector(marketConfig(), testOptions(nil))

	now := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 10; i++ {
		ra := a.simulateStep(now)
		rb := b.simulateStep(now)
		require.Equal(t, ra, rb)
		now = now.Add(time.Second)
	}
	for _, r := range a.simulateStep(now) {
		tk := r.(models.MMarketTick)
		assert.Greater(t, tk.Ask, tk.Bid)
		assert.Greater(t, tk.Price, 0.0)
	}
}

func TestIngestTickUpdatesSnapshot(t *testing.T) {
	store := newMemStore()
	cfg := marketConfig()
	cfg.Simulate = false
	c := NewMarketDataCollector(cfg, testOptions(store))

	c.IngestTick(models.MMarketTick{Symbol: "MSFT", Price: 400, Bid: 399.9, Ask: 400.1, Volume: 10})
	c.IngestTick(models.MMarketTick{Symbol: "MSFT", Price: 404, Volume: 5})
	c.IngestTick(models.MMarketTick{Symbol: "", Price: 1})
	c.IngestTick(models.MMarketTick{Symbol: "MSFT", Price: -3})

	snap := c.Snapshot()
	assert.Equal(t, "market_data", snap.Category)
	assert.Equal(t, uint64(2), snap.Fields["ticks_processed"])
	assert.Equal(t, 3, snap.Fields["symbol_count"])

	msft := fieldMap(t, fieldMap(t, snap.Fields["symbols"])["MSFT"])
	assert.Equal(t, 404.0, msft["price"])
	assert.Equal(t, 15.0, msft["volume"])
	assert.InDelta(t, 1.0, msft["change_pct"], 1e-9)
	assert.Equal(t, 404.0, msft["session_high"])
	assert.Equal(t, 400.0, msft["session_low"])

	st := c.Status()
	assert.Equal(t, uint64(2), st.SamplesProduced)
	assert.Equal(t, uint64(2), st.Errors)

	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, store.rows(models.CategoryMarketData), 2)
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewMarketDataCollector(marketConfig(), testOptions(nil))
	c.IngestTick(models.MMarketTick{Symbol: "AAPL", Price: 100})

	first := c.Snapshot()
	aapl := fieldMap(t, fieldMap(t, first.Fields["symbols"])["AAPL"])
	aapl["price"] = -1.0
	first.Fields["ticks_processed"] = uint64(999)

	c.IngestTick(models.MMarketTick{Symbol: "AAPL", Price: 101})
	second := c.Snapshot()
	assert.Equal(t, 101.0, fieldMap(t, fieldMap(t, second.Fields["symbols"])["AAPL"])["price"])
	assert.Equal(t, uint64(2), second.Fields["ticks_processed"])
	assert.Equal(t, -1.0, aapl["price"])
	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

func TestSimulationProducesTicksWhileRunning(t *testing.T) {
	store := newMemStore()
	c := NewMarketDataCollector(marketConfig(), testOptions(store))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	assert.Eventually(t, func() bool {
		return c.Status().SamplesProduced >= 10
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(ctx))
	assert.GreaterOrEqual(t, len(store.rows(models.CategoryMarketData)), 10)

	symbols := fieldMap(t, c.Snapshot().Fields["symbols"])
	assert.Contains(t, symbols, "AAPL")
	assert.Contains(t, symbols, "VOD.L")
}

func TestSnapshotDoesNotStallTicks(t *testing.T) {
	if runtime.GOMAXPROCS(0) < 2 {
		t.Skip("needs two procs to overlap snapshots with writes")
	}
	c := NewMarketDataCollector(models.MMarketDataConfig{HistorySize: 600}, testOptions(nil))
	now := time.Unix(1700000000, 0).UTC()
	syms := make([]string, 20)

	c.mu.Lock()
	for i := range syms {
		syms[i] = fmt.Sprintf("SYM%02d", i)
		for j := 0; j < 600; j++ {
			c.apply(models.MMarketTick{Symbol: syms[i], Price: 100 + float64(j%7), Volume: 1, Timestamp: now})
		}
	}
	c.mu.Unlock()

	const rounds = 50
	start := time.Now()
	for i := 0; i < rounds; i++ {
		c.Snapshot()
	}
	perSnapshot := time.Since(start) / rounds

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				c.Snapshot()
			}
		}
	}()

	// same critical section as IngestTick
	const writes = 200
	var waited time.Duration
	for i := 0; i < writes; i++ {
		tick := models.MMarketTick{Symbol: syms[i%len(syms)], Price: 101, Volume: 1, Timestamp: now}
		begin := time.Now()
		c.mu.Lock()
		c.apply(tick)
		c.mu.Unlock()
		waited += time.Since(begin)
		time.Sleep(50 * time.Microsecond)
	}
	close(stop)
	<-done

	perWrite := waited / writes
	assert.Less(t, perWrite, perSnapshot/4, "writes waited %v on average, one snapshot takes %v", perWrite, perSnapshot)

	sym := fieldMap(t, fieldMap(t, c.Snapshot().Fields["symbols"])["SYM00"])
	assert.Equal(t, 600, sym["history"])
}
