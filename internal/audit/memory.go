package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps audit entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Log implements Logger.
func (s *MemoryStore) Log(ctx context.Context, entry Entry) error {
	entry = normalize(entry, time.Now())
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// List returns matching entries newest first.
func (s *MemoryStore) List(ctx context.Context, query Query) ([]Entry, error) {
	s.mu.RLock()
	result := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if query.Matches(entry) {
			result = append(result, entry)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit := listLimit(query.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
