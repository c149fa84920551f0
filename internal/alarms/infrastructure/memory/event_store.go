package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
)

// EventStore is an in-memory alarm event store.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]alarms.AlarmEvent
	order  []string
	// open holds the ids of uncleared events per pair.
	open map[alarms.PairKey][]string
}

// NewEventStore constructs an empty store.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]alarms.AlarmEvent),
		open:   make(map[alarms.PairKey][]string),
	}
}

// FindOpen implements alarms.EventStore.
func (s *EventStore) FindOpen(ctx context.Context, key alarms.PairKey) (*alarms.AlarmEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findOpenLocked(key)
}

// Open implements alarms.EventStore.
func (s *EventStore) Open(ctx context.Context, event alarms.AlarmEvent) (*alarms.AlarmEvent, error) {
	if event.ID == "" || event.DeviceID == "" || event.RuleID == "" {
		return nil, errors.New("alarm store: missing fields")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	open, err := s.findOpenLocked(event.Key())
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, alarms.ErrAlreadyOpen
	}
	if _, ok := s.events[event.ID]; ok {
		return nil, errors.New("alarm store: duplicate id")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt
	event.ClearedAt = nil
	event.ClearedValue = nil
	event.ClearReadingID = ""
	s.events[event.ID] = event
	s.order = append(s.order, event.ID)
	s.open[event.Key()] = append(s.open[event.Key()], event.ID)
	return cloneEvent(event), nil
}

// Close implements alarms.EventStore.
func (s *EventStore) Close(ctx context.Context, eventID string, clearance alarms.Clearance) (*alarms.AlarmEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return nil, alarms.ErrNotFound
	}
	if !event.IsOpen() {
		return nil, nil
	}
	at := clearance.At.UTC()
	value := clearance.Value
	event.ClearedAt = &at
	event.ClearedValue = &value
	event.ClearReadingID = clearance.ReadingID
	event.UpdatedAt = time.Now().UTC()
	s.events[eventID] = event
	s.dropOpenLocked(event.Key(), eventID)
	return cloneEvent(event), nil
}

// Get implements alarms.EventStore.
func (s *EventStore) Get(ctx context.Context, id string) (*alarms.AlarmEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return cloneEvent(event), nil
}

// List implements alarms.EventStore. Newest triggered first.
func (s *EventStore) List(ctx context.Context, filter alarms.EventFilter) ([]alarms.AlarmEvent, error) {
	s.mu.RLock()
	result := make([]alarms.AlarmEvent, 0)
	for _, id := range s.order {
		event := s.events[id]
		if filter.Matches(event) {
			result = append(result, *cloneEvent(event))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Insert stores event without the open-slot check. Used to load history.
func (s *EventStore) Insert(event alarms.AlarmEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.events[event.ID]; ok {
		s.dropOpenLocked(previous.Key(), previous.ID)
	} else {
		s.order = append(s.order, event.ID)
	}
	s.events[event.ID] = event
	if event.IsOpen() {
		s.open[event.Key()] = append(s.open[event.Key()], event.ID)
	}
}

func (s *EventStore) findOpenLocked(key alarms.PairKey) (*alarms.AlarmEvent, error) {
	ids := s.open[key]
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return cloneEvent(s.events[ids[0]]), nil
	default:
		return nil, &alarms.ConsistencyViolationError{Key: key, OpenIDs: append([]string(nil), ids...)}
	}
}

func (s *EventStore) dropOpenLocked(key alarms.PairKey, id string) {
	ids := s.open[key]
	for i, openID := range ids {
		if openID != id {
			continue
		}
		ids = append(ids[:i:i], ids[i+1:]...)
		break
	}
	if len(ids) == 0 {
		delete(s.open, key)
		return
	}
	s.open[key] = ids
}

func cloneEvent(event alarms.AlarmEvent) *alarms.AlarmEvent {
	out := event
	if event.ClearedAt != nil {
		at := *event.ClearedAt
		out.ClearedAt = &at
	}
	if event.ClearedValue != nil {
		value := *event.ClearedValue
		out.ClearedValue = &value
	}
	return &out
}
