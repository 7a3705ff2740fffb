package bridge

import (
	"testing"
	"time"

	"telemetry-backbone/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func foldedOnly(samples []models.MMetricSample, name string) []models.MMetricSample {
	var out []models.MMetricSample
	for _, s := range samples {
		if s.Name == name && len(s.Observations) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func TestFoldHistograms(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	prev := make(map[string]histogramTotals)
	round := func(text string) []models.MMetricSample {
		return foldedOnly(foldHistograms(Parse(text, now).Samples, prev), "rtt_ms")
	}

	assert.Empty(t, round("rtt_ms_sum 50\nrtt_ms_count 5\n"))

	got := round("rtt_ms_sum 80\nrtt_ms_count 7\n")
	require.Len(t, got, 1)
	assert.Equal(t, 15.0, got[0].Value)
	assert.Equal(t, []float64{15, 15}, got[0].Observations)

	// nothing new observed
	assert.Empty(t, round("rtt_ms_sum 80\nrtt_ms_count 7\n"))

	// exporter restart starts the totals over
	got = round("rtt_ms_sum 4\nrtt_ms_count 1\n")
	require.Len(t, got, 1)
	assert.Equal(t, []float64{4}, got[0].Observations)

	// non-finite totals are ignored and the baseline is kept
	assert.Empty(t, round("rtt_ms_sum +Inf\nrtt_ms_count 2\n"))
	got = round("rtt_ms_sum 10\nrtt_ms_count 3\n")
	require.Len(t, got, 1)
	assert.Equal(t, []float64{3, 3}, got[0].Observations)
}

func TestFoldHistogramsCapsObservations(t *testing.T) {
	prev := map[string]histogramTotals{"rtt_ms": {}}
	now := time.Unix(1700000000, 0).UTC()

	got := foldedOnly(foldHistograms(Parse("rtt_ms_sum 2e6\nrtt_ms_count 1e6\n", now).Samples, prev), "rtt_ms")
	require.Len(t, got, 1)
	assert.Len(t, got[0].Observations, maxFoldedObservations)
	assert.Equal(t, 2.0, got[0].Value)
}

func TestFoldHistogramsLeavesLoneCountAlone(t *testing.T) {
	prev := make(map[string]histogramTotals)
	in := Parse("jobs_count 4\n", time.Now()).Samples
	out := foldHistograms(in, prev)
	assert.Len(t, out, 1)
	assert.Empty(t, prev)
}
