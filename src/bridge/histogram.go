package bridge

import (
	"math"
	"sort"
	"strings"

	"telemetry-backbone/src/models"
)

// maxFoldedObservations caps the observation list of one folded sample.
const maxFoldedObservations = 256

type histogramTotals struct {
	sum   float64
	count float64
}

// foldHistograms turns the cumulative _sum/_count pair of every histogram
// series into one sample named after the family, whose Observations hold the
// values observed since the previous scrape. The observations are the mean of
// the interval repeated once per new observation, up to maxFoldedObservations.
// prev carries the cumulative totals between scrapes and must be guarded by
// the caller. The first scrape of a series only sets the baseline.
func foldHistograms(samples []models.MMetricSample, prev map[string]histogramTotals) []models.MMetricSample {
	type pair struct {
		base      models.MMetricSample
		sum       float64
		count     float64
		haveSum   bool
		haveCount bool
	}
	pairs := make(map[string]*pair)

	for _, s := range samples {
		if s.Kind != models.KindHistogram && !strings.HasSuffix(s.Name, "_count") {
			continue
		}
		var base string
		switch {
		case strings.HasSuffix(s.Name, "_sum"):
			base = strings.TrimSuffix(s.Name, "_sum")
		case strings.HasSuffix(s.Name, "_count"):
			base = strings.TrimSuffix(s.Name, "_count")
		default:
			continue
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || s.Value < 0 {
			continue
		}

		key := SeriesKey(base, s.Labels)
		p, ok := pairs[key]
		if !ok {
			p = &pair{base: models.MMetricSample{
				Category:  s.Category,
				Name:      base,
				Labels:    s.Labels,
				Kind:      models.KindHistogram,
				Timestamp: s.Timestamp,
			}}
			pairs[key] = p
		}
		if strings.HasSuffix(s.Name, "_sum") {
			p.sum, p.haveSum = s.Value, true
		} else {
			p.count, p.haveCount = s.Value, true
		}
	}

	keys := make([]string, 0, len(pairs))
	for k, p := range pairs {
		// a lone _count is an ordinary counter
		if p.haveSum && p.haveCount {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := samples
	for _, k := range keys {
		p := pairs[k]
		last, seen := prev[k]
		prev[k] = histogramTotals{sum: p.sum, count: p.count}
		if !seen {
			continue
		}

		dSum, dCount := p.sum-last.sum, p.count-last.count
		if dCount < 0 {
			// exporter restarted
			dSum, dCount = p.sum, p.count
		}
		if dCount < 1 {
			continue
		}

		mean := dSum / dCount
		n := maxFoldedObservations
		if dCount < float64(n) {
			n = int(dCount)
		}
		obs := make([]float64, n)
		for i := range obs {
			obs[i] = mean
		}

		folded := p.base
		folded.Value = mean
		folded.Observations = obs
		out = append(out, folded)
	}
	return out
}
