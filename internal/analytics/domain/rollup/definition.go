package rollup

import (
	"fmt"
	"regexp"
	"time"

	masterdata "wellhead-monitor/internal/masterdata/domain"
)

// Dimension is a grouping key of a rollup.
type Dimension string

const (
	DimensionDevice    Dimension = "device"
	DimensionParameter Dimension = "parameter"
	DimensionLocation  Dimension = "location"
	DimensionField     Dimension = "field"
)

// Aggregate is a statistic exposed by a rollup.
type Aggregate string

const (
	AggregateAvg    Aggregate = "avg"
	AggregateMin    Aggregate = "min"
	AggregateMax    Aggregate = "max"
	AggregateCount  Aggregate = "count"
	AggregateStdDev Aggregate = "stddev"
)

// Filter selects parameters. Codes, when set, must contain the parameter;
// data types and categories, when set, must match too.
type Filter struct {
	Codes      []string              `json:"codes,omitempty"`
	DataTypes  []masterdata.DataType `json:"data_types,omitempty"`
	Categories []masterdata.Category `json:"categories,omitempty"`
}

// Matches reports whether param passes the filter.
func (f Filter) Matches(param masterdata.ParameterType) bool {
	if len(f.Codes) > 0 && !contains(f.Codes, param.Code) {
		return false
	}
	if len(f.DataTypes) > 0 && !contains(f.DataTypes, param.DataType) {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, param.Category) {
		return false
	}
	return true
}

// Empty reports whether the filter selects every parameter.
func (f Filter) Empty() bool {
	return len(f.Codes) == 0 && len(f.DataTypes) == 0 && len(f.Categories) == 0
}

// Definition declares one maintained rollup.
type Definition struct {
	Name            string        `json:"name"`
	BucketWidth     time.Duration `json:"bucket_width"`
	Filter          Filter        `json:"filter"`
	Dimensions      []Dimension   `json:"dimensions"`
	Aggregates      []Aggregate   `json:"aggregates"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	// Lookback bounds how far back bucket ends are recomputed.
	Lookback time.Duration `json:"lookback"`
	// Lag keeps the newest buckets out until late readings have arrived.
	Lag time.Duration `json:"lag"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate checks definition invariants.
func (d Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return invalidDefinition(d.Name, "name must match [a-z0-9_]+")
	}
	if d.BucketWidth <= 0 {
		return invalidDefinition(d.Name, "bucket width must be positive")
	}
	if (24*time.Hour)%d.BucketWidth != 0 && d.BucketWidth%(24*time.Hour) != 0 {
		return invalidDefinition(d.Name, "bucket width must divide a day or be whole days")
	}
	if d.RefreshInterval <= 0 {
		return invalidDefinition(d.Name, "refresh interval must be positive")
	}
	if d.Lag < 0 {
		return invalidDefinition(d.Name, "lag must not be negative")
	}
	if d.Lookback <= d.Lag {
		return invalidDefinition(d.Name, "lookback must exceed lag")
	}
	if len(d.Aggregates) == 0 {
		return invalidDefinition(d.Name, "no aggregates")
	}
	for _, agg := range d.Aggregates {
		switch agg {
		case AggregateAvg, AggregateMin, AggregateMax, AggregateCount, AggregateStdDev:
		default:
			return invalidDefinition(d.Name, fmt.Sprintf("unsupported aggregate %q", agg))
		}
	}
	seen := make(map[Dimension]bool, len(d.Dimensions))
	for _, dim := range d.Dimensions {
		switch dim {
		case DimensionDevice, DimensionParameter, DimensionLocation, DimensionField:
		default:
			return invalidDefinition(d.Name, fmt.Sprintf("unsupported dimension %q", dim))
		}
		if seen[dim] {
			return invalidDefinition(d.Name, fmt.Sprintf("duplicate dimension %q", dim))
		}
		seen[dim] = true
	}
	return nil
}

// HasAggregate reports whether agg is exposed.
func (d Definition) HasAggregate(agg Aggregate) bool {
	return contains(d.Aggregates, agg)
}

// HasDimension reports whether readings are grouped by dim.
func (d Definition) HasDimension(dim Dimension) bool {
	return contains(d.Dimensions, dim)
}

// BucketStart aligns ts to the start of its bucket (UTC).
func (d Definition) BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(d.BucketWidth)
}

// Window is the range of bucket starts a refresh at one instant recomputes.
// Readings in [From, To) feed those buckets.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Empty reports whether no bucket is eligible.
func (w Window) Empty() bool {
	return !w.From.Before(w.To)
}

// Contains reports whether a bucket starting at start is recomputed.
func (w Window) Contains(start time.Time) bool {
	return !start.Before(w.From) && start.Before(w.To)
}

// Window returns the buckets whose end lies in [now-Lookback, now-Lag].
func (d Definition) Window(now time.Time) Window {
	now = now.UTC()
	width := d.BucketWidth
	earliestEnd := now.Add(-d.Lookback)
	first := earliestEnd.Truncate(width)
	if first.Before(earliestEnd) {
		first = first.Add(width)
	}
	last := now.Add(-d.Lag).Truncate(width)
	// first and last are bucket ends; convert to the range of starts.
	return Window{From: first.Add(-width), To: last}
}

func contains[T comparable](list []T, value T) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
