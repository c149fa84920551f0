package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wellhead-monitor/internal/analytics/domain/rollup"
)

// BucketRepository is an in-memory bucket store for tests and local runs.
type BucketRepository struct {
	mu      sync.RWMutex
	data    map[string]map[string]rollup.Bucket
	upserts int
}

// NewBucketRepository constructs a repository.
func NewBucketRepository() *BucketRepository {
	return &BucketRepository{data: make(map[string]map[string]rollup.Bucket)}
}

// UpsertBuckets replaces buckets by key.
func (r *BucketRepository) UpsertBuckets(ctx context.Context, buckets []rollup.Bucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bucket := range buckets {
		byKey := r.data[bucket.Definition]
		if byKey == nil {
			byKey = make(map[string]rollup.Bucket)
			r.data[bucket.Definition] = byKey
		}
		byKey[bucket.Key()] = bucket
		r.upserts++
	}
	return nil
}

// ListBuckets returns buckets ordered by start then group key.
func (r *BucketRepository) ListBuckets(ctx context.Context, query rollup.BucketQuery) ([]rollup.Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rollup.Bucket
	for definition, byKey := range r.data {
		if query.Definition != "" && definition != query.Definition {
			continue
		}
		for _, bucket := range byKey {
			if query.Matches(bucket) {
				result = append(result, bucket)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].BucketStart.Equal(result[j].BucketStart) {
			return result[i].BucketStart.Before(result[j].BucketStart)
		}
		return result[i].GroupKey.String() < result[j].GroupKey.String()
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// DeleteStale implements rollup.BucketRepository.
func (r *BucketRepository) DeleteStale(ctx context.Context, definition string, window rollup.Window, refreshedBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, bucket := range r.data[definition] {
		if window.Contains(bucket.BucketStart) && bucket.RefreshedAt.Before(refreshedBefore) {
			delete(r.data[definition], key)
			removed++
		}
	}
	return removed, nil
}

// Upserts counts rows written since construction.
func (r *BucketRepository) Upserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upserts
}
