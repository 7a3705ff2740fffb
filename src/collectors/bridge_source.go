package collectors

import (
	"context"
	"sync/atomic"

	"telemetry-backbone/src/bridge"
	"telemetry-backbone/src/models"
)

// bridgeSource couples a Bridge with the required/fallback policy of its config.
type bridgeSource struct {
	bridge   *bridge.Bridge
	cfg      models.MBridgeConfig
	degraded atomic.Bool
}

func newBridgeSource(b *bridge.Bridge, cfg models.MBridgeConfig) *bridgeSource {
	if b == nil || !cfg.Enabled() {
		return nil
	}
	return &bridgeSource{bridge: b, cfg: cfg}
}

// probe is run inside Start. A required bridge with no reachable endpoint
// fails the start unless local fallback is allowed, in which case the source
// is only marked degraded.
func (s *bridgeSource) probe(ctx context.Context, l *lifecycle) error {
	if s == nil || !s.cfg.Required {
		return nil
	}
	err := s.bridge.Probe(ctx)
	if err == nil {
		s.degraded.Store(false)
		return nil
	}
	if s.cfg.FallbackLocal {
		s.degraded.Store(true)
		l.recordError(err)
		l.logger.Warning("%s bridge unreachable, continuing on local data: %v", l.name, err)
		return nil
	}
	return err
}

// loop scrapes until ctx ends, handing successful samples to apply.
func (s *bridgeSource) loop(l *lifecycle, apply func([]models.MMetricSample)) func(ctx context.Context) {
	return func(ctx context.Context) {
		s.bridge.Run(ctx, func(r bridge.ScrapeReport) {
			s.degraded.Store(r.Succeeded == 0)
			for _, err := range r.Errors {
				l.recordError(err)
			}
			if len(r.Samples) > 0 {
				l.addSamples(len(r.Samples))
				apply(r.Samples)
			}
		})
	}
}

// fields describes bridge health for a snapshot.
func (s *bridgeSource) fields() map[string]interface{} {
	if s == nil {
		return nil
	}
	eps := s.bridge.Stats()
	healthy := 0
	for _, ep := range eps {
		if ep.Healthy {
			healthy++
		}
	}
	return map[string]interface{}{
		"endpoints":         len(eps),
		"healthy_endpoints": healthy,
		"degraded":          s.degraded.Load(),
		"interval_ms":       s.bridge.Interval().Milliseconds(),
	}
}
