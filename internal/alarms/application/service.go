package application

import (
	"context"
	"errors"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
)

// QueryService serves alarm event read paths.
type QueryService struct {
	store alarms.EventStore
}

// NewQueryService constructs a query service.
func NewQueryService(store alarms.EventStore) (*QueryService, error) {
	if store == nil {
		return nil, errors.New("alarms: nil event store")
	}
	return &QueryService{store: store}, nil
}

// ListOpen returns open events matching filter.
func (s *QueryService) ListOpen(ctx context.Context, filter alarms.EventFilter) ([]alarms.AlarmEvent, error) {
	filter.OpenOnly = true
	return s.List(ctx, filter)
}

// List returns open and closed events matching filter.
func (s *QueryService) List(ctx context.Context, filter alarms.EventFilter) ([]alarms.AlarmEvent, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, errors.New("alarms: invalid time range")
	}
	filter.From = utcOrZero(filter.From)
	filter.To = utcOrZero(filter.To)
	return s.store.List(ctx, filter)
}

// Get returns an event by id or alarms.ErrNotFound.
func (s *QueryService) Get(ctx context.Context, id string) (*alarms.AlarmEvent, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if id == "" {
		return nil, errors.New("alarms: event id required")
	}
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, alarms.ErrNotFound
	}
	return event, nil
}

func utcOrZero(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
