package rollup

import (
	"sort"
	"time"

	masterdata "wellhead-monitor/internal/masterdata/domain"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

// Metadata resolves what grouping needs.
type Metadata interface {
	Parameter(code string) (masterdata.ParameterType, bool)
	Placement(deviceID string) (masterdata.Placement, bool)
}

// ParameterCodes lists the catalog codes a definition selects, sorted.
func ParameterCodes(def Definition, params []masterdata.ParameterType) []string {
	var codes []string
	for _, param := range params {
		if def.Filter.Matches(param) {
			codes = append(codes, param.Code)
		}
	}
	sort.Strings(codes)
	return codes
}

// ComputeResult holds the buckets of one window and the readings left out.
type ComputeResult struct {
	Buckets []Bucket
	// Skipped counts readings outside the filter, outside the window, with
	// invalid values, or on devices without a placement when grouping needs one.
	Skipped int
}

// Compute rebuilds every bucket of window from raw readings. The result is
// a pure function of its inputs; buckets are sorted by start then group key.
func Compute(def Definition, window Window, readings []telemetry.Reading, meta Metadata, refreshedAt time.Time) ComputeResult {
	needsPlacement := def.HasDimension(DimensionLocation) || def.HasDimension(DimensionField)
	groups := make(map[string]*Bucket)
	var result ComputeResult
	for _, reading := range readings {
		param, ok := meta.Parameter(reading.ParameterCode)
		if !ok || !def.Filter.Matches(param) || !reading.Finite() {
			result.Skipped++
			continue
		}
		start := def.BucketStart(reading.TS)
		if !window.Contains(start) {
			result.Skipped++
			continue
		}
		var key GroupKey
		if def.HasDimension(DimensionDevice) {
			key.DeviceID = reading.DeviceID
		}
		if def.HasDimension(DimensionParameter) {
			key.ParameterCode = reading.ParameterCode
		}
		if needsPlacement {
			placement, ok := meta.Placement(reading.DeviceID)
			if !ok {
				result.Skipped++
				continue
			}
			if def.HasDimension(DimensionLocation) {
				key.LocationID = placement.Device.LocationID
			}
			if def.HasDimension(DimensionField) {
				key.FieldID = placement.Location.FieldID
			}
		}
		bucket := Bucket{Definition: def.Name, BucketStart: start, GroupKey: key}
		id := bucket.Key()
		existing, ok := groups[id]
		if !ok {
			bucket.BucketEnd = start.Add(def.BucketWidth)
			bucket.RefreshedAt = refreshedAt.UTC()
			existing = &bucket
			groups[id] = existing
		}
		existing.Add(reading.Value)
	}

	result.Buckets = make([]Bucket, 0, len(groups))
	for _, bucket := range groups {
		result.Buckets = append(result.Buckets, *bucket)
	}
	sort.Slice(result.Buckets, func(i, j int) bool {
		a, b := result.Buckets[i], result.Buckets[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		return a.GroupKey.String() < b.GroupKey.String()
	})
	return result
}
