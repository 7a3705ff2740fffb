package models

import "time"

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

// MCollectorSnapshot is the read-only view a collector hands out on each poll.
// Fields is a fresh copy; callers must not expect later updates to show up in it.
type MCollectorSnapshot struct {
	Category  string                 `json:"category"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
	Stale     bool                   `json:"stale,omitempty"`
}

// EmptySnapshot is what a failed or silent collector contributes to a tick.
func EmptySnapshot(category string, ts time.Time) MCollectorSnapshot {
	return MCollectorSnapshot{
		Category:  category,
		Timestamp: ts,
		Fields:    map[string]interface{}{},
		Stale:     true,
	}
}

// MCompositeSnapshot merges one snapshot per collector category.
type MCompositeSnapshot struct {
	Timestamp  time.Time                     `json:"timestamp"`
	Sequence   uint64                        `json:"sequence"`
	Categories map[string]MCollectorSnapshot `json:"categories"`
}

// -----------------------------------------------------------------------------
// Collector status
// -----------------------------------------------------------------------------

type MCollectorStatus struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	State           string  `json:"state"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	SamplesProduced uint64  `json:"samples_produced"`
	Errors          uint64  `json:"errors"`
	LastError       string  `json:"last_error,omitempty"`
}
