// Package metrics instruments the telemetry pipeline itself with Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telemetry"

// Metrics owns a private registry; nothing is registered globally so several
// instances (one per test) can coexist.
type Metrics struct {
	registry *prometheus.Registry

	Connections        prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec // result=accepted|rejected
	Evictions          prometheus.Counter
	BroadcastEnqueued  prometheus.Counter
	BroadcastDropped   prometheus.Counter
	MessagesSent       prometheus.Counter
	SendErrors         prometheus.Counter
	PollTicks          prometheus.Counter
	TickDuration       prometheus.Histogram
	SnapshotTimeouts   *prometheus.CounterVec // category
	CollectorUp        *prometheus.GaugeVec   // category
	BridgeScrapes      *prometheus.CounterVec // endpoint, result
	BridgeSkippedLines *prometheus.CounterVec // endpoint
	StoreFlushes       *prometheus.CounterVec // table, result
	StoreRows          *prometheus.CounterVec // table
}

// New builds and registers every metric.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Currently registered dashboard connections",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connection_attempts_total",
			Help: "Connection attempts by result",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "evictions_total",
			Help: "Connections evicted by the liveness check",
		}),
		BroadcastEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "broadcast_enqueued_total",
			Help: "Frames accepted onto the broadcast queue",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "broadcast_dropped_total",
			Help: "Frames dropped because the broadcast queue was full",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_sent_total",
			Help: "Per-connection frame deliveries",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "send_errors_total",
			Help: "Per-connection write failures",
		}),
		PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "poll_ticks_total",
			Help: "Completed poll ticks",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "tick_duration_seconds",
			Help:    "Time to gather and enqueue one composite snapshot",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		SnapshotTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "snapshot_timeouts_total",
			Help: "Collector snapshots that missed the per-collector deadline",
		}, []string{"category"}),
		CollectorUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "collector_up",
			Help: "1 when the collector is running",
		}, []string{"category"}),
		BridgeScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "scrapes_total",
			Help: "Scrapes by endpoint and result",
		}, []string{"endpoint", "result"}),
		BridgeSkippedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "skipped_lines_total",
			Help: "Exposition lines that could not be parsed",
		}, []string{"endpoint"}),
		StoreFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "flushes_total",
			Help: "Batch flushes by table and result",
		}, []string{"table", "result"}),
		StoreRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "rows_written_total",
			Help: "Rows upserted by table",
		}, []string{"table"}),
	}

	m.registry.MustRegister(
		m.Connections, m.ConnectionsTotal, m.Evictions,
		m.BroadcastEnqueued, m.BroadcastDropped, m.MessagesSent, m.SendErrors,
		m.PollTicks, m.TickDuration, m.SnapshotTimeouts, m.CollectorUp,
		m.BridgeScrapes, m.BridgeSkippedLines,
		m.StoreFlushes, m.StoreRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
