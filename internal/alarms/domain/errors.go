package alarms

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrAlreadyOpen is returned when a conditional open loses to an existing open event.
	ErrAlreadyOpen = errors.New("alarm: event already open")
	// ErrConsistencyViolation means more than one open event exists for a pair.
	ErrConsistencyViolation = errors.New("alarm: more than one open event")
	// ErrConfiguration marks rule configuration problems.
	ErrConfiguration = errors.New("alarm: rule configuration error")
	// ErrUnsupportedOperator is wrapped by ConfigurationError for unknown operators.
	ErrUnsupportedOperator = errors.New("alarm: unsupported operator")
	// ErrInactiveRule is returned when an inactive rule is evaluated directly.
	ErrInactiveRule = errors.New("alarm: rule inactive")
)

// ConfigurationError reports a rule that cannot be evaluated.
type ConfigurationError struct {
	RuleID string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("alarm rule %s: %v", e.RuleID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConsistencyViolationError carries the ids of duplicate open events.
type ConsistencyViolationError struct {
	Key     PairKey
	OpenIDs []string
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("alarm: %d open events for %s: %s", len(e.OpenIDs), e.Key, strings.Join(e.OpenIDs, ","))
}

func (e *ConsistencyViolationError) Is(target error) bool { return target == ErrConsistencyViolation }
