package collectors

import (
	"context"
	"errors"
	"sync"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"
)

// BufferConfig bounds one batch buffer.
type BufferConfig struct {
	BatchSize   int // flush is requested once this many rows are pending
	MaxBuffered int // hard cap; oldest rows are dropped beyond it
}

// -----------------------------------------------------------------------------

// BatchBuffer accumulates rows for one table. Rows leave the buffer only after
// the store accepted them; a failed flush keeps everything for the next try.
type BatchBuffer struct {
	table   models.Category
	store   interfaces.IBatchWriter
	cfg     BufferConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	records []models.PersistenceRecord
	evicted uint64 // rows dropped from the head by the cap, ever

	flushMu sync.Mutex
	signal  chan struct{}
}

func NewBatchBuffer(table models.Category, store interfaces.IBatchWriter, cfg BufferConfig, log *logger.Logger, m *metrics.Metrics) *BatchBuffer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = cfg.BatchSize * 100
	}
	if log == nil {
		log = logger.NewDiscardLogger(string(table))
	}
	return &BatchBuffer{
		table:   table,
		store:   store,
		cfg:     cfg,
		logger:  log,
		metrics: m,
		signal:  make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

// Add appends rows and requests a flush when the batch size is reached.
func (b *BatchBuffer) Add(records ...models.PersistenceRecord) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	b.records = append(b.records, records...)
	var dropped int
	if over := len(b.records) - b.cfg.MaxBuffered; over > 0 {
		b.records = append(b.records[:0:0], b.records[over:]...)
		b.evicted += uint64(over)
		dropped = over
	}
	full := len(b.records) >= b.cfg.BatchSize
	b.mu.Unlock()

	if dropped > 0 {
		b.logger.Warning("%s buffer over capacity, dropped %d oldest rows", b.table, dropped)
	}
	if full {
		select {
		case b.signal <- struct{}{}:
		default:
		}
	}
}

// -----------------------------------------------------------------------------

// Flush writes a copy of the pending rows as one batch. Concurrent calls are
// serialised; rows added during the write stay for the next flush.
func (b *BatchBuffer) Flush(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := make([]models.PersistenceRecord, len(b.records))
	copy(batch, b.records)
	evictedBefore := b.evicted
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := b.store.SaveBatch(ctx, b.table, batch); err != nil {
		b.count("error", 0)
		var pErr *helpers.PersistenceError
		if !errors.As(err, &pErr) {
			err = helpers.NewPersistenceError("flush", string(b.table), len(batch), err)
		}
		return err
	}

	b.mu.Lock()
	// rows the cap evicted during the write were part of batch and are already gone
	written := len(batch) - int(b.evicted-evictedBefore)
	if written > len(b.records) {
		written = len(b.records)
	}
	if written > 0 {
		b.records = append(b.records[:0:0], b.records[written:]...)
	}
	b.mu.Unlock()

	b.count("ok", len(batch))
	return nil
}

func (b *BatchBuffer) count(result string, rows int) {
	if b.metrics == nil {
		return
	}
	b.metrics.StoreFlushes.WithLabelValues(string(b.table), result).Inc()
	if rows > 0 {
		b.metrics.StoreRows.WithLabelValues(string(b.table)).Add(float64(rows))
	}
}

// -----------------------------------------------------------------------------

// Len is the number of rows waiting to be written.
func (b *BatchBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Dropped is the number of rows ever discarded by the cap.
func (b *BatchBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
