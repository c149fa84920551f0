package rollup

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDefinition = errors.New("rollup: invalid definition")
	ErrUnknownDefinition = errors.New("rollup: unknown definition")
	// ErrAggregation marks a failed refresh tick; the next tick retries it.
	ErrAggregation = errors.New("rollup: aggregation failed")
)

// AggregationError wraps the cause of a failed refresh for one definition.
type AggregationError struct {
	Definition string
	Stage      string
	Err        error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("rollup %s: %s: %v", e.Definition, e.Stage, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

func (e *AggregationError) Is(target error) bool { return target == ErrAggregation }

func invalidDefinition(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, name, reason)
}
