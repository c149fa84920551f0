package alarms

import "context"

// EventStore persists alarm events. Implementations must keep at most one
// open event per PairKey.
type EventStore interface {
	// FindOpen returns the open event for the pair, nil when none is open, or
	// an error wrapping ErrConsistencyViolation when several are.
	FindOpen(ctx context.Context, key PairKey) (*AlarmEvent, error)
	// Open inserts event only if no open event exists for its pair; otherwise
	// it returns ErrAlreadyOpen.
	Open(ctx context.Context, event AlarmEvent) (*AlarmEvent, error)
	// Close clears the event if it is still open. It returns nil, nil when the
	// event was already closed.
	Close(ctx context.Context, eventID string, clearance Clearance) (*AlarmEvent, error)
	Get(ctx context.Context, id string) (*AlarmEvent, error)
	List(ctx context.Context, filter EventFilter) ([]AlarmEvent, error)
}

// RuleRepository persists alarm rules.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]AlarmRule, error)
}
