package memory

import (
	"context"
	"sort"
	"sync"

	telemetry "wellhead-monitor/internal/telemetry/domain"
)

type readingKey struct {
	deviceID string
	code     string
	ts       int64
}

// ReadingRepository is an in-memory reading store.
type ReadingRepository struct {
	mu       sync.RWMutex
	readings []telemetry.Reading
	index    map[readingKey]int
}

// NewReadingRepository constructs an empty repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{index: make(map[readingKey]int)}
}

// Insert implements telemetry.ReadingRepository.
func (r *ReadingRepository) Insert(ctx context.Context, reading telemetry.Reading) (telemetry.Reading, bool, error) {
	key := readingKey{deviceID: reading.DeviceID, code: reading.ParameterCode, ts: reading.TS.UnixNano()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos, ok := r.index[key]; ok {
		return r.readings[pos], false, nil
	}
	r.index[key] = len(r.readings)
	r.readings = append(r.readings, reading)
	return reading, true, nil
}

// ListRange implements telemetry.ReadingRepository, ordered by timestamp.
func (r *ReadingRepository) ListRange(ctx context.Context, query telemetry.ReadingQuery) ([]telemetry.Reading, error) {
	r.mu.RLock()
	result := make([]telemetry.Reading, 0)
	for _, reading := range r.readings {
		if query.Matches(reading) {
			result = append(result, reading)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool { return result[i].TS.Before(result[j].TS) })
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// Len returns the number of stored readings.
func (r *ReadingRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.readings)
}

// LatestCache is an in-memory telemetry.LatestCache.
type LatestCache struct {
	mu     sync.RWMutex
	values map[string]map[string]telemetry.LatestValue
}

// NewLatestCache constructs an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{values: make(map[string]map[string]telemetry.LatestValue)}
}

// Put keeps reading when it is newer than the cached value.
func (c *LatestCache) Put(ctx context.Context, reading telemetry.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCode := c.values[reading.DeviceID]
	if byCode == nil {
		byCode = make(map[string]telemetry.LatestValue)
		c.values[reading.DeviceID] = byCode
	}
	if current, ok := byCode[reading.ParameterCode]; ok && !reading.TS.After(current.TS) {
		return nil
	}
	byCode[reading.ParameterCode] = telemetry.LatestValue{
		ParameterCode: reading.ParameterCode,
		Value:         reading.Value,
		TS:            reading.TS.UTC(),
	}
	return nil
}

// Latest returns cached values ordered by parameter code.
func (c *LatestCache) Latest(ctx context.Context, deviceID string) ([]telemetry.LatestValue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]telemetry.LatestValue, 0, len(c.values[deviceID]))
	for _, value := range c.values[deviceID] {
		result = append(result, value)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ParameterCode < result[j].ParameterCode })
	return result, nil
}
