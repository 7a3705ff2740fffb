package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"
	"telemetry-backbone/src/network"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExporter serves a fixed exposition payload on /metrics.
func mockExporter(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadURL(t *testing.T) string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/metrics"
	srv.Close()
	return url
}

func newTestBridge(m *metrics.Metrics, endpoints ...models.MEndpointConfig) *Bridge {
	log := logger.NewDiscardLogger("bridge")
	fetcher := network.NewHTTPFetcher(models.MNetworkConfig{RequestTimeout: 2}, log)
	cfg := models.MBridgeConfig{Endpoints: endpoints, ScrapeIntervalMs: 10, TimeoutMs: 1000}
	return NewBridge("execution", cfg, fetcher, log, m)
}

func TestScrapeAllIsolatesFailingEndpoint(t *testing.T) {
	good := mockExporter(t, "orders_total{venue=\"XNAS\"} 3\n")
	m := metrics.New()

	b := newTestBridge(m,
		models.MEndpointConfig{Name: "good", URL: good.URL + "/metrics"},
		models.MEndpointConfig{Name: "down", URL: deadURL(t)},
		models.MEndpointConfig{Name: "missing", URL: good.URL + "/nope"},
	)

	report := b.ScrapeAll(context.Background())
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Samples, 1)
	assert.Equal(t, "execution", report.Samples[0].Category)
	assert.Equal(t, "good", report.Samples[0].Labels["endpoint"])

	var scrapeErr *helpers.ScrapeError
	require.True(t, errors.As(report.Errors["missing"], &scrapeErr))
	assert.Equal(t, http.StatusNotFound, scrapeErr.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeScrapes.WithLabelValues("good", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeScrapes.WithLabelValues("down", "error")))

	stats := b.Stats()
	require.Len(t, stats, 3)
	assert.True(t, stats[0].Healthy)
	assert.False(t, stats[1].Healthy)
	assert.NotEmpty(t, stats[1].LastError)
}

func TestScrapeCountsSkippedLines(t *testing.T) {
	srv := mockExporter(t, "ok 1\nnot a metric line at all\n")
	m := metrics.New()
	b := newTestBridge(m, models.MEndpointConfig{Name: "x", URL: srv.URL + "/metrics"})

	samples, err := b.ScrapeEndpoint(context.Background(), models.MEndpointConfig{Name: "x", URL: srv.URL + "/metrics"})
	require.NoError(t, err)
	assert.Len(t, samples, 1)
	assert.Equal(t, uint64(1), b.Stats()[0].SkippedLines)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeSkippedLines.WithLabelValues("x")))
}

func TestScrapeGarbageIsNoData(t *testing.T) {
	srv := mockExporter(t, "<html>oops</html>\n")
	b := newTestBridge(nil, models.MEndpointConfig{Name: "html", URL: srv.URL + "/metrics"})

	report := b.ScrapeAll(context.Background())
	assert.Empty(t, report.Samples)
	assert.Equal(t, 1, report.Failed)
}

func TestProbe(t *testing.T) {
	good := mockExporter(t, "up 1\n")

	b := newTestBridge(nil,
		models.MEndpointConfig{Name: "down", URL: deadURL(t)},
		models.MEndpointConfig{Name: "good", URL: good.URL + "/metrics"},
	)
	assert.NoError(t, b.Probe(context.Background()))

	b = newTestBridge(nil, models.MEndpointConfig{Name: "down", URL: deadURL(t)})
	err := b.Probe(context.Background())
	var startErr *helpers.StartupError
	require.True(t, errors.As(err, &startErr))
	var scrapeErr *helpers.ScrapeError
	assert.True(t, errors.As(err, &scrapeErr))
}

func TestRunDeliversUntilCancelled(t *testing.T) {
	srv := mockExporter(t, "up 1\n")
	b := newTestBridge(nil, models.MEndpointConfig{Name: "a", URL: srv.URL + "/metrics"})

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	rounds := 0
	done := make(chan struct{})
	go func() {
		b.Run(ctx, func(r ScrapeReport) {
			mu.Lock()
			if r.Succeeded == 1 && len(r.Samples) == 1 {
				rounds++
			}
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rounds >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScrapeDeclarationsOnlyIsHealthy(t *testing.T) {
	srv := mockExporter(t, "# HELP orders_total Orders sent.\n# TYPE orders_total counter\n")
	b := newTestBridge(nil, models.MEndpointConfig{Name: "fresh", URL: srv.URL + "/metrics"})

	report := b.ScrapeAll(context.Background())
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, report.Samples)
	assert.True(t, b.Stats()[0].Healthy)
	assert.NoError(t, b.Probe(context.Background()))
}

func TestScrapeFoldsHistogramAcrossRounds(t *testing.T) {
	var mu sync.Mutex
	payload := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	serve := func(sum, count string) {
		mu.Lock()
		payload = "# TYPE order_latency_ms histogram\n" +
			"order_latency_ms_bucket{venue=\"BATS\",le=\"+Inf\"} " + count + "\n" +
			"order_latency_ms_sum{venue=\"BATS\"} " + sum + "\n" +
			"order_latency_ms_count{venue=\"BATS\"} " + count + "\n"
		mu.Unlock()
	}
	ep := models.MEndpointConfig{Name: "engine", URL: srv.URL}
	b := newTestBridge(nil, ep)

	serve("100", "10")
	samples, err := b.ScrapeEndpoint(context.Background(), ep)
	require.NoError(t, err)
	for _, s := range samples {
		assert.Empty(t, s.Observations, s.Name)
	}

	serve("130", "13")
	samples, err = b.ScrapeEndpoint(context.Background(), ep)
	require.NoError(t, err)

	var folded *models.MMetricSample
	for i := range samples {
		if samples[i].Name == "order_latency_ms" {
			folded = &samples[i]
		}
	}
	require.NotNil(t, folded)
	assert.Equal(t, models.KindHistogram, folded.Kind)
	assert.Equal(t, "BATS", folded.Labels["venue"])
	assert.Equal(t, "engine", folded.Labels["endpoint"])
	assert.Equal(t, []float64{10, 10, 10}, folded.Observations)
}
