package models

import (
	"fmt"
	"time"
)

// Bucket is the width of one aggregation row.
type Bucket string

const (
	BucketMinute Bucket = "minute"
	BucketHour   Bucket = "hour"
	BucketDay    Bucket = "day"
)

// Duration returns the bucket width.
func (b Bucket) Duration() (time.Duration, error) {
	switch b {
	case BucketMinute:
		return time.Minute, nil
	case BucketHour:
		return time.Hour, nil
	case BucketDay:
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown bucket %q", string(b))
}

// MQueryRequest selects rows in [Start, End) for one table.
type MQueryRequest struct {
	Category      Category
	Start         time.Time
	End           time.Time
	Discriminator string // optional
	Bucket        Bucket
}

// MBucketRow is one aggregated bucket. Fields are keyed "<column>_<agg>".
type MBucketRow struct {
	BucketStart time.Time          `json:"bucket_start"`
	Count       int64              `json:"count"`
	Fields      map[string]float64 `json:"fields"`
}
