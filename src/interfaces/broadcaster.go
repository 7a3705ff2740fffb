package interfaces

import (
	"context"

	"telemetry-backbone/src/models"
)

// -----------------------------------------------------------------------------
// IBroadcaster is the part of the connection manager the coordinator drives.
// -----------------------------------------------------------------------------

type IBroadcaster interface {
	Start(ctx context.Context)

	// Broadcast never blocks. It returns false when the frame was dropped.
	Broadcast(payload interface{}, topic string) bool

	Stop()

	ConnectionCount() int
}

// -----------------------------------------------------------------------------
// ISnapshotProvider is what REST and gRPC collaborators read from the coordinator.
// -----------------------------------------------------------------------------

type ISnapshotProvider interface {
	CompositeSnapshot() models.MCompositeSnapshot
	CollectorStatuses() []models.MCollectorStatus
}
