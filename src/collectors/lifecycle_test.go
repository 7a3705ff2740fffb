package collectors

import (
	"context"
	"testing"
	"time"

	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStartStopIdempotent(t *testing.T) {
	opts := testOptions(newMemStore())
	opts.Metrics = metrics.New()
	c := NewStrategyCollector(models.MStrategyConfig{Strategies: []string{"momentum"}}, opts)

	assert.False(t, c.IsReady())
	assert.Equal(t, "stopped", c.Status().State)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsReady())
	assert.Equal(t, "running", c.Status().State)
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.CollectorUp.WithLabelValues("strategy")))

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.IsReady())
	assert.Equal(t, "stopped", c.Status().State)
	assert.Zero(t, c.Status().UptimeSeconds)
	assert.Equal(t, 0.0, testutil.ToFloat64(opts.Metrics.CollectorUp.WithLabelValues("strategy")))
}

func TestRestartAfterStop(t *testing.T) {
	c := NewStrategyCollector(models.MStrategyConfig{}, testOptions(newMemStore()))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsReady())
	require.NoError(t, c.Stop(ctx))
}

func TestStopFlushesPendingRows(t *testing.T) {
	store := newMemStore()
	c := NewStrategyCollector(models.MStrategyConfig{Strategies: []string{"momentum"}}, testOptions(store))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	c.RecordSignal(models.MSignalEvent{Strategy: "momentum", Symbol: "AAPL", Direction: "buy"})
	c.RecordTrade(models.MTradeEvent{Strategy: "momentum", Symbol: "AAPL", Side: "buy", Quantity: 1, Price: 10})
	assert.Empty(t, store.rows(models.CategoryTrades))

	require.NoError(t, c.Stop(ctx))
	assert.Len(t, store.rows(models.CategoryTrades), 1)

	// the final roll-up is written on stop too
	rollups := store.rows(models.CategoryStrategyMetrics)
	require.Len(t, rollups, 1)
	row := rollups[0].(models.MStrategyMetric)
	assert.Equal(t, int64(1), row.Signals)
	assert.Equal(t, int64(1), row.Trades)
}

func TestStopReportsFlushFailure(t *testing.T) {
	store := newMemStore()
	c := NewStrategyCollector(models.MStrategyConfig{}, testOptions(store))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	c.RecordTrade(models.MTradeEvent{Strategy: "s", Symbol: "AAPL", Side: "buy", Quantity: 1, Price: 10})

	store.setFail(true)
	require.Error(t, c.Stop(ctx))
	assert.Equal(t, "stopped", c.Status().State)
	assert.NotEmpty(t, c.Status().LastError)

	store.setFail(false)
	require.NoError(t, c.Flush(ctx))
	assert.Len(t, store.rows(models.CategoryTrades), 1)
}

func TestFlushLoopRunsOnSizeThreshold(t *testing.T) {
	store := newMemStore()
	opts := testOptions(store)
	opts.Buffer = BufferConfig{BatchSize: 2, MaxBuffered: 100}
	c := NewStrategyCollector(models.MStrategyConfig{}, opts)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	for i := 0; i < 2; i++ {
		c.RecordTrade(models.MTradeEvent{Strategy: "s", Symbol: "AAPL", Side: "buy", Quantity: 1, Price: 10})
	}
	assert.Eventually(t, func() bool {
		return len(store.rows(models.CategoryTrades)) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStampNeverDecreases(t *testing.T) {
	var l lifecycle
	l.init("x", "x", Options{})
	now := time.Now()
	assert.Equal(t, now, l.stamp(now))
	assert.Equal(t, now, l.stamp(now.Add(-time.Second)))
	later := now.Add(time.Second)
	assert.Equal(t, later, l.stamp(later))
}
