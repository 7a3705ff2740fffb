package collectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(sym string, sec int64) models.MMarketTick {
	return models.MMarketTick{Timestamp: time.Unix(sec, 0).UTC(), Symbol: sym, Price: 100}
}

func TestBatchBufferRetainsOnFailure(t *testing.T) {
	store := newMemStore()
	m := metrics.New()
	b := NewBatchBuffer(models.CategoryMarketData, store, BufferConfig{BatchSize: 10, MaxBuffered: 100}, nil, m)

	b.Add(tick("AAPL", 1), tick("AAPL", 2), tick("AAPL", 3))

	store.setFail(true)
	err := b.Flush(context.Background())
	require.Error(t, err)
	var pErr *helpers.PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, 3, pErr.Rows)
	assert.Equal(t, 3, b.Len())

	store.setFail(false)
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
	assert.Len(t, store.rows(models.CategoryMarketData), 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFlushes.WithLabelValues("market_data", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFlushes.WithLabelValues("market_data", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StoreRows.WithLabelValues("market_data")))
}

func TestBatchBufferKeepsRowsAddedDuringFlush(t *testing.T) {
	store := newMemStore()
	b := NewBatchBuffer(models.CategoryMarketData, store, BufferConfig{BatchSize: 10, MaxBuffered: 100}, nil, nil)
	b.Add(tick("AAPL", 1), tick("AAPL", 2))

	added := false
	store.onSave = func() {
		if !added {
			added = true
			b.Add(tick("AAPL", 3))
		}
	}

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 1, b.Len())
	assert.Len(t, store.rows(models.CategoryMarketData), 2)

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
	assert.Len(t, store.rows(models.CategoryMarketData), 3)
}

func TestBatchBufferCapDropsOldest(t *testing.T) {
	b := NewBatchBuffer(models.CategoryMarketData, newMemStore(), BufferConfig{BatchSize: 2, MaxBuffered: 3}, nil, nil)
	for i := int64(1); i <= 5; i++ {
		b.Add(tick("AAPL", i))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Dropped())

	store := b.store.(*memStore)
	require.NoError(t, b.Flush(context.Background()))
	rows := store.rows(models.CategoryMarketData)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0].RecordTime().Unix())
}

func TestBatchBufferSignalsWhenFull(t *testing.T) {
	b := NewBatchBuffer(models.CategoryMarketData, newMemStore(), BufferConfig{BatchSize: 2, MaxBuffered: 10}, nil, nil)

	b.Add(tick("AAPL", 1))
	select {
	case <-b.signal:
		t.Fatal("signalled before batch size")
	default:
	}

	b.Add(tick("AAPL", 2))
	select {
	case <-b.signal:
	default:
		t.Fatal("expected flush signal")
	}
}

func TestBatchBufferEmptyFlushIsNoop(t *testing.T) {
	store := newMemStore()
	b := NewBatchBuffer(models.CategoryTrades, store, BufferConfig{}, nil, nil)
	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, store.calls)
}
