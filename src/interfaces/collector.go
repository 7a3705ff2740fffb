package interfaces

import (
	"context"

	"telemetry-backbone/src/models"
)

// -----------------------------------------------------------------------------
// ICollector owns live state for one metric category.
// -----------------------------------------------------------------------------

type ICollector interface {
	// Name is the unique identifier of the collector
	Name() string

	// Category is the snapshot category key ("market_data", "system", ...)
	Category() string

	// -----------------------------------------------------------------------------

	// Start is idempotent. It returns a *helpers.StartupError when a required
	// resource cannot be reached; the collector is then back in the stopped state.
	Start(ctx context.Context) error

	// Stop is idempotent and returns within the configured grace period.
	// Pending persistence batches are flushed before it returns.
	Stop(ctx context.Context) error

	// IsReady is true only after Start completed successfully.
	IsReady() bool

	// -----------------------------------------------------------------------------

	// Snapshot never performs I/O; it copies the latest in-memory state.
	Snapshot() models.MCollectorSnapshot

	// Status reports lifecycle state and counters.
	Status() models.MCollectorStatus

	// Flush writes all buffered persistence records.
	Flush(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Direct event ingestion contracts
// -----------------------------------------------------------------------------

type ITickIngester interface {
	IngestTick(tick models.MMarketTick)
}

type ISignalRecorder interface {
	RecordSignal(ev models.MSignalEvent)
}

type ITradeRecorder interface {
	RecordTrade(ev models.MTradeEvent)
}

type IExecutionRecorder interface {
	RecordExecution(ev models.MExecutionEvent)
}
