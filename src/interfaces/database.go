package interfaces

import (
	"context"
	"time"

	"telemetry-backbone/src/models"
)

// -----------------------------------------------------------------------------
// IStore defines the contract for time-series persistence.
// -----------------------------------------------------------------------------

type IStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// SaveBatch upserts records into the category table in one transaction.
	// Either every row is written or none is.
	SaveBatch(ctx context.Context, category models.Category, records []models.PersistenceRecord) error

	// -----------------------------------------------------------------------------

	// Query returns one aggregated row per time bucket.
	Query(ctx context.Context, req models.MQueryRequest) ([]models.MBucketRow, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes rows older than the retention window.
	CleanupOldData(ctx context.Context, retention time.Duration) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

// IBatchWriter is the write half of IStore, all a collector needs.
type IBatchWriter interface {
	SaveBatch(ctx context.Context, category models.Category, records []models.PersistenceRecord) error
}

// IMetricsQuerier is the read half of IStore used by REST handlers.
type IMetricsQuerier interface {
	Query(ctx context.Context, req models.MQueryRequest) ([]models.MBucketRow, error)
}
