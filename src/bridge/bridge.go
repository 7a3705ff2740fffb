package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------

// EndpointStats is a copy of the per-endpoint counters.
type EndpointStats struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Scrapes      uint64    `json:"scrapes"`
	Failures     uint64    `json:"failures"`
	SkippedLines uint64    `json:"skipped_lines"`
	LastSuccess  time.Time `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	Healthy      bool      `json:"healthy"`
}

// ScrapeReport is the outcome of one ScrapeAll round.
type ScrapeReport struct {
	Samples   []models.MMetricSample
	Succeeded int
	Failed    int
	Errors    map[string]error
}

// Bridge scrapes a set of endpoints on behalf of one collector.
type Bridge struct {
	category  string
	endpoints []models.MEndpointConfig
	fetcher   interfaces.INetworkManager
	interval  time.Duration
	timeout   time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	stats      map[string]*EndpointStats
	histograms map[string]histogramTotals
}

// -----------------------------------------------------------------------------

func NewBridge(category string, cfg models.MBridgeConfig, fetcher interfaces.INetworkManager, log *logger.Logger, m *metrics.Metrics) *Bridge {
	b := &Bridge{
		category:   category,
		endpoints:  cfg.Endpoints,
		fetcher:    fetcher,
		interval:   time.Duration(cfg.ScrapeIntervalMs) * time.Millisecond,
		timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:     log,
		metrics:    m,
		stats:      make(map[string]*EndpointStats, len(cfg.Endpoints)),
		histograms: make(map[string]histogramTotals),
	}
	for i := range b.endpoints {
		ep := &b.endpoints[i]
		if ep.Name == "" {
			ep.Name = ep.URL
		}
		b.stats[ep.Name] = &EndpointStats{Name: ep.Name, URL: ep.URL}
	}
	return b
}

// Interval is the configured scrape cadence.
func (b *Bridge) Interval() time.Duration {
	return b.interval
}

// -----------------------------------------------------------------------------

// ScrapeEndpoint fetches and parses one endpoint. Any failure is returned as a
// *helpers.ScrapeError and recorded in the endpoint stats.
func (b *Bridge) ScrapeEndpoint(ctx context.Context, ep models.MEndpointConfig) ([]models.MMetricSample, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	body, err := b.fetcher.Get(ctx, ep.URL, nil)
	if err != nil {
		var scrapeErr *helpers.ScrapeError
		if !errors.As(err, &scrapeErr) {
			err = helpers.NewScrapeError(ep.Name, 0, err)
		}
		b.record(ep.Name, 0, err)
		return nil, err
	}

	res := Parse(string(body), time.Now().UTC())
	// a payload of only HELP/TYPE lines is a live exporter with nothing to report yet
	if res.Skipped > 0 && len(res.Samples) == 0 {
		err := helpers.NewScrapeError(ep.Name, 0, fmt.Errorf("no parseable samples, %d of %d lines skipped", res.Skipped, res.Lines))
		b.record(ep.Name, res.Skipped, err)
		return nil, err
	}

	for i := range res.Samples {
		res.Samples[i].Category = b.category
		if res.Samples[i].Labels == nil {
			res.Samples[i].Labels = map[string]string{}
		}
		if _, ok := res.Samples[i].Labels["endpoint"]; !ok {
			res.Samples[i].Labels["endpoint"] = ep.Name
		}
	}

	b.mu.Lock()
	samples := foldHistograms(res.Samples, b.histograms)
	b.mu.Unlock()

	b.record(ep.Name, res.Skipped, nil)
	return samples, nil
}

// -----------------------------------------------------------------------------

// ScrapeAll scrapes every endpoint concurrently. One endpoint failing never
// affects the others; failures only show up in the report and the stats.
func (b *Bridge) ScrapeAll(ctx context.Context) ScrapeReport {
	results := make([][]models.MMetricSample, len(b.endpoints))
	errs := make([]error, len(b.endpoints))

	var g errgroup.Group
	for i, ep := range b.endpoints {
		g.Go(func() error {
			results[i], errs[i] = b.ScrapeEndpoint(ctx, ep)
			return nil
		})
	}
	g.Wait()

	report := ScrapeReport{Errors: make(map[string]error)}
	for i, ep := range b.endpoints {
		if errs[i] != nil {
			report.Failed++
			report.Errors[ep.Name] = errs[i]
			continue
		}
		report.Succeeded++
		report.Samples = append(report.Samples, results[i]...)
	}
	return report
}

// -----------------------------------------------------------------------------

// Probe checks that at least one endpoint answers. Used at collector start.
func (b *Bridge) Probe(ctx context.Context) error {
	if len(b.endpoints) == 0 {
		return nil
	}
	report := b.ScrapeAll(ctx)
	if report.Succeeded > 0 {
		return nil
	}
	var first error
	for _, ep := range b.endpoints {
		if err := report.Errors[ep.Name]; err != nil {
			first = err
			break
		}
	}
	return helpers.NewStartupError(b.category+" bridge", first)
}

// -----------------------------------------------------------------------------

// Run scrapes on the configured interval and hands every round's report to
// sink, until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, sink func(ScrapeReport)) {
	if len(b.endpoints) == 0 || b.interval <= 0 {
		return
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := b.ScrapeAll(ctx)
			if ctx.Err() != nil {
				return
			}
			sink(report)
		}
	}
}

// -----------------------------------------------------------------------------

func (b *Bridge) record(name string, skipped int, err error) {
	b.mu.Lock()
	st := b.stats[name]
	if st == nil {
		st = &EndpointStats{Name: name}
		b.stats[name] = st
	}
	st.Scrapes++
	st.SkippedLines += uint64(skipped)
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
		st.Healthy = false
	} else {
		st.LastSuccess = time.Now().UTC()
		st.LastError = ""
		st.Healthy = true
	}
	b.mu.Unlock()

	if b.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		b.metrics.BridgeScrapes.WithLabelValues(name, result).Inc()
		if skipped > 0 {
			b.metrics.BridgeSkippedLines.WithLabelValues(name).Add(float64(skipped))
		}
	}
	if err != nil {
		b.logger.WithFields(logger.Fields{"endpoint": name}).Debug("scrape failed: %v", err)
	}
}

// Stats returns a copy of every endpoint's counters.
func (b *Bridge) Stats() []EndpointStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]EndpointStats, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if st := b.stats[ep.Name]; st != nil {
			out = append(out, *st)
		}
	}
	return out
}
