package server

import (
	"fmt"
	"strconv"
	"time"

	"telemetry-backbone/src/models"
)

// -----------------------------------------------------------------------------

// parseCategory accepts a persisted table name.
func parseCategory(raw string) (models.Category, error) {
	for _, c := range models.AllCategories {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// -----------------------------------------------------------------------------

// parseTimeParam reads RFC 3339 or unix milliseconds. Empty yields def.
func parseTimeParam(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or unix milliseconds", raw)
	}
	return t.UTC(), nil
}

// -----------------------------------------------------------------------------

// parseBucket defaults to one-minute buckets.
func parseBucket(raw string) (models.Bucket, error) {
	if raw == "" {
		return models.BucketMinute, nil
	}
	b := models.Bucket(raw)
	if _, err := b.Duration(); err != nil {
		return "", err
	}
	return b, nil
}

// -----------------------------------------------------------------------------

// stampIfZero fills a missing event time with now.
func stampIfZero(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now.UTC()
	}
}
