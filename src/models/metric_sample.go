package models

import "time"

// -----------------------------------------------------------------------------
// Categories
// -----------------------------------------------------------------------------

// Category names a persistence table (and the partition of records written to it).
type Category string

const (
	CategoryMarketData       Category = "market_data"
	CategoryStrategyMetrics  Category = "strategy_metrics"
	CategoryExecutionMetrics Category = "execution_metrics"
	CategorySystemMetrics    Category = "system_metrics"
	CategoryTrades           Category = "trades"
)

// AllCategories lists every persisted table in creation order.
var AllCategories = []Category{
	CategoryMarketData,
	CategoryStrategyMetrics,
	CategoryExecutionMetrics,
	CategorySystemMetrics,
	CategoryTrades,
}

// Snapshot categories (one per collector)
const (
	SnapshotMarketData = "market_data"
	SnapshotStrategy   = "strategy"
	SnapshotExecution  = "execution"
	SnapshotSystem     = "system"
)

// -----------------------------------------------------------------------------
// Metric kinds
// -----------------------------------------------------------------------------

type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
)

// ParseMetricKind maps an exposition TYPE keyword to a kind.
func ParseMetricKind(s string) (MetricKind, bool) {
	switch s {
	case "counter":
		return KindCounter, true
	case "gauge":
		return KindGauge, true
	case "histogram":
		return KindHistogram, true
	}
	return "", false
}

// -----------------------------------------------------------------------------

// MMetricSample is one immutable reading. Labels distinguish series sharing a name.
type MMetricSample struct {
	Category     string            `json:"category"`
	Name         string            `json:"name"`
	Value        float64           `json:"value"`
	Labels       map[string]string `json:"labels,omitempty"`
	Kind         MetricKind        `json:"kind"`
	Observations []float64         `json:"observations,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Label returns the label value or "" when absent.
func (s MMetricSample) Label(name string) string {
	if s.Labels == nil {
		return ""
	}
	return s.Labels[name]
}
