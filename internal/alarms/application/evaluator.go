package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	alarms "wellhead-monitor/internal/alarms/domain"
	"wellhead-monitor/internal/lock"
	"wellhead-monitor/internal/observability/metrics"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

// RuleSource returns the rules, active or not, targeting a parameter.
type RuleSource interface {
	RulesForParameter(code string) []alarms.AlarmRule
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Evaluator applies alarm rules to accepted readings and moves alarm events
// between open and closed.
type Evaluator struct {
	rules  RuleSource
	store  alarms.EventStore
	locker lock.Locker
	logger *log.Logger
	clock  Clock
	newID  func() string
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithLocker replaces the per-pair locker. Use a shared locker when several
// processes evaluate the same devices.
func WithLocker(locker lock.Locker) EvaluatorOption {
	return func(e *Evaluator) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() string) EvaluatorOption {
	return func(e *Evaluator) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(rules RuleSource, store alarms.EventStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if rules == nil {
		return nil, errors.New("alarms: nil rule source")
	}
	if store == nil {
		return nil, errors.New("alarms: nil event store")
	}
	evaluator := &Evaluator{
		rules:  rules,
		store:  store,
		locker: lock.NewKeyedMutex(),
		clock:  systemClock{},
		newID:  func() string { return "alarm-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// Evaluate runs every active rule for the reading's parameter. A failing
// rule does not stop the others; all failures are joined into the error.
func (e *Evaluator) Evaluate(ctx context.Context, reading telemetry.Reading) ([]alarms.Transition, error) {
	if e == nil {
		return nil, errors.New("alarms: nil evaluator")
	}
	var transitions []alarms.Transition
	var errs []error
	for _, rule := range e.rules.RulesForParameter(reading.ParameterCode) {
		if !rule.Active || rule.ParameterCode != reading.ParameterCode {
			continue
		}
		transition, err := e.evaluateRule(ctx, reading, rule)
		if err != nil {
			e.reportError(reading, rule, err)
			errs = append(errs, err)
			continue
		}
		if transition != nil {
			transitions = append(transitions, *transition)
		}
	}
	return transitions, errors.Join(errs...)
}

// EvaluateRule evaluates one rule directly. Inactive rules are a configuration error here.
func (e *Evaluator) EvaluateRule(ctx context.Context, reading telemetry.Reading, rule alarms.AlarmRule) (*alarms.Transition, error) {
	if e == nil {
		return nil, errors.New("alarms: nil evaluator")
	}
	if !rule.Active {
		return nil, &alarms.ConfigurationError{RuleID: rule.ID, Err: alarms.ErrInactiveRule}
	}
	if rule.ParameterCode != reading.ParameterCode {
		return nil, &alarms.ConfigurationError{RuleID: rule.ID, Err: fmt.Errorf("rule targets %s, reading is %s", rule.ParameterCode, reading.ParameterCode)}
	}
	return e.evaluateRule(ctx, reading, rule)
}

func (e *Evaluator) evaluateRule(ctx context.Context, reading telemetry.Reading, rule alarms.AlarmRule) (*alarms.Transition, error) {
	breach, err := rule.Breached(reading.Value)
	if err != nil {
		return nil, err
	}

	key := alarms.PairKey{DeviceID: reading.DeviceID, RuleID: rule.ID}
	unlock, err := e.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("alarms: lock %s: %w", key, err)
	}
	defer unlock()

	open, err := e.store.FindOpen(ctx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case breach && open == nil:
		return e.openEvent(ctx, reading, rule)
	case !breach && open != nil:
		if reading.TS.Before(open.TriggeredAt) {
			// older than the opening reading; closing would put cleared before triggered
			return nil, nil
		}
		return e.closeEvent(ctx, reading, *open)
	default:
		return nil, nil
	}
}

func (e *Evaluator) openEvent(ctx context.Context, reading telemetry.Reading, rule alarms.AlarmRule) (*alarms.Transition, error) {
	event := alarms.AlarmEvent{
		ID:               e.newID(),
		RuleID:           rule.ID,
		DeviceID:         reading.DeviceID,
		ParameterCode:    reading.ParameterCode,
		Severity:         rule.Severity,
		TriggeredAt:      reading.TS.UTC(),
		TriggeredValue:   reading.Value,
		TriggerReadingID: reading.ID,
		CreatedAt:        e.clock.Now().UTC(),
	}
	created, err := e.store.Open(ctx, event)
	if errors.Is(err, alarms.ErrAlreadyOpen) {
		// another writer opened the pair first
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.IncAlarmTransition(string(alarms.TransitionOpened), created.Severity)
	if e.logger != nil {
		e.logger.Printf("alarm opened: device=%s rule=%s event=%s value=%v at=%s", created.DeviceID, created.RuleID, created.ID, created.TriggeredValue, created.TriggeredAt.Format(time.RFC3339))
	}
	return &alarms.Transition{Type: alarms.TransitionOpened, Event: *created}, nil
}

func (e *Evaluator) closeEvent(ctx context.Context, reading telemetry.Reading, open alarms.AlarmEvent) (*alarms.Transition, error) {
	closed, err := e.store.Close(ctx, open.ID, alarms.Clearance{
		At:        reading.TS.UTC(),
		Value:     reading.Value,
		ReadingID: reading.ID,
	})
	if err != nil {
		return nil, err
	}
	if closed == nil {
		return nil, nil
	}
	metrics.IncAlarmTransition(string(alarms.TransitionClosed), closed.Severity)
	if e.logger != nil {
		e.logger.Printf("alarm closed: device=%s rule=%s event=%s value=%v at=%s", closed.DeviceID, closed.RuleID, closed.ID, reading.Value, reading.TS.UTC().Format(time.RFC3339))
	}
	return &alarms.Transition{Type: alarms.TransitionClosed, Event: *closed}, nil
}

func (e *Evaluator) reportError(reading telemetry.Reading, rule alarms.AlarmRule, err error) {
	kind := "store"
	switch {
	case errors.Is(err, alarms.ErrConsistencyViolation):
		kind = "consistency"
		metrics.IncAlarmConsistencyViolation()
	case errors.Is(err, alarms.ErrConfiguration):
		kind = "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "canceled"
	}
	metrics.IncAlarmEvaluationError(kind)
	if e.logger != nil {
		e.logger.Printf("alarm evaluation error: kind=%s device=%s rule=%s reading=%s err=%v", kind, reading.DeviceID, rule.ID, reading.ID, err)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
