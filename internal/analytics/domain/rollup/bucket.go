package rollup

import (
	"context"
	"strings"
	"time"
)

// GroupKey identifies a group inside one bucket. Dimensions a definition does
// not group by are empty.
type GroupKey struct {
	DeviceID      string `json:"device_id,omitempty"`
	ParameterCode string `json:"parameter_code,omitempty"`
	LocationID    string `json:"location_id,omitempty"`
	FieldID       string `json:"field_id,omitempty"`
}

// String renders the key stored with a bucket row.
func (k GroupKey) String() string {
	return strings.Join([]string{k.FieldID, k.LocationID, k.DeviceID, k.ParameterCode}, "|")
}

// Bucket is one maintained aggregate row.
type Bucket struct {
	Definition  string    `json:"definition"`
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	GroupKey
	Stats
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Key is unique per definition.
func (b Bucket) Key() string {
	return b.BucketStart.UTC().Format(time.RFC3339) + "|" + b.GroupKey.String()
}

// Value returns the named aggregate.
func (b Bucket) Value(agg Aggregate) float64 {
	switch agg {
	case AggregateAvg:
		return b.Mean()
	case AggregateMin:
		return b.Min
	case AggregateMax:
		return b.Max
	case AggregateCount:
		return float64(b.Count)
	case AggregateStdDev:
		return b.StdDev()
	default:
		return 0
	}
}

// BucketQuery selects buckets of one definition with start in [From, To).
type BucketQuery struct {
	Definition    string
	DeviceID      string
	ParameterCode string
	LocationID    string
	FieldID       string
	From          time.Time
	To            time.Time
	Limit         int
}

// Matches applies the query to a bucket.
func (q BucketQuery) Matches(b Bucket) bool {
	switch {
	case q.Definition != "" && b.Definition != q.Definition:
		return false
	case q.DeviceID != "" && b.DeviceID != q.DeviceID:
		return false
	case q.ParameterCode != "" && b.ParameterCode != q.ParameterCode:
		return false
	case q.LocationID != "" && b.LocationID != q.LocationID:
		return false
	case q.FieldID != "" && b.FieldID != q.FieldID:
		return false
	case !q.From.IsZero() && b.BucketStart.Before(q.From):
		return false
	case !q.To.IsZero() && !b.BucketStart.Before(q.To):
		return false
	}
	return true
}

// BucketRepository stores bucket rows. UpsertBuckets replaces rows with the
// same (definition, bucket start, group key).
type BucketRepository interface {
	UpsertBuckets(ctx context.Context, buckets []Bucket) error
	ListBuckets(ctx context.Context, query BucketQuery) ([]Bucket, error)
	// DeleteStale removes rows of definition starting inside window whose
	// refreshed_at is before refreshedBefore, and reports how many went.
	DeleteStale(ctx context.Context, definition string, window Window, refreshedBefore time.Time) (int, error)
}
