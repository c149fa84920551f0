package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	alarms "wellhead-monitor/internal/alarms/domain"
	"wellhead-monitor/internal/lock"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/observability/metrics"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

// CatalogSource exposes the current metadata snapshot.
type CatalogSource interface {
	Current() *masterdata.Catalog
}

// Evaluator applies alarm rules to an accepted reading.
type Evaluator interface {
	Evaluate(ctx context.Context, reading telemetry.Reading) ([]alarms.Transition, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Result describes one accepted reading.
type Result struct {
	Reading     telemetry.Reading   `json:"reading"`
	Duplicate   bool                `json:"duplicate"`
	Transitions []alarms.Transition `json:"transitions,omitempty"`
	// EvaluationErr holds per-rule failures. The reading is stored regardless.
	EvaluationErr error `json:"-"`
}

// Intake validates, stores and evaluates readings. Write and evaluation for
// one device run under a per-device lock so rules see that device's readings
// in acceptance order.
type Intake struct {
	catalog   CatalogSource
	readings  telemetry.ReadingRepository
	evaluator Evaluator
	latest    telemetry.LatestCache
	locker    lock.Locker
	logger    *log.Logger
	clock     Clock
	newID     func() string
}

// IntakeOption customizes the intake.
type IntakeOption func(*Intake)

// WithLatestCache keeps the newest value per device/parameter up to date.
func WithLatestCache(cache telemetry.LatestCache) IntakeOption {
	return func(i *Intake) {
		i.latest = cache
	}
}

// WithDeviceLocker replaces the per-device locker.
func WithDeviceLocker(locker lock.Locker) IntakeOption {
	return func(i *Intake) {
		if locker != nil {
			i.locker = locker
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) IntakeOption {
	return func(i *Intake) {
		i.logger = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) IntakeOption {
	return func(i *Intake) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithIDGenerator overrides reading id generation.
func WithIDGenerator(fn func() string) IntakeOption {
	return func(i *Intake) {
		if fn != nil {
			i.newID = fn
		}
	}
}

// NewIntake constructs an intake.
func NewIntake(catalog CatalogSource, readings telemetry.ReadingRepository, evaluator Evaluator, opts ...IntakeOption) (*Intake, error) {
	if catalog == nil {
		return nil, errors.New("intake: nil catalog")
	}
	if readings == nil {
		return nil, errors.New("intake: nil reading repository")
	}
	if evaluator == nil {
		return nil, errors.New("intake: nil evaluator")
	}
	intake := &Intake{
		catalog:   catalog,
		readings:  readings,
		evaluator: evaluator,
		locker:    lock.NewKeyedMutex(),
		clock:     systemClock{},
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(intake)
	}
	return intake, nil
}

// Accept validates one reading against the catalog, stores it and evaluates
// alarm rules synchronously. Validation failures return a
// *telemetry.ValidationError and nothing is stored.
func (i *Intake) Accept(ctx context.Context, transport string, in telemetry.ReadingInput) (*Result, error) {
	if i == nil {
		return nil, errors.New("intake: nil intake")
	}
	start := time.Now()
	result, err := i.accept(ctx, in)
	outcome := metrics.ResultSuccess
	switch {
	case errors.Is(err, telemetry.ErrValidation):
		outcome = metrics.ResultRejected
		metrics.IncIngestError("validation")
	case err != nil:
		outcome = metrics.ResultError
		metrics.IncIngestError("store")
	case result.Duplicate:
		outcome = metrics.ResultDuplicate
	}
	if result != nil {
		metrics.ObserveConsumerLag(transport, i.clock.Now().Sub(result.Reading.TS))
	}
	metrics.ObserveIngest(transport, outcome, time.Since(start))
	return result, err
}

func (i *Intake) accept(ctx context.Context, in telemetry.ReadingInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	catalog := i.catalog.Current()
	if catalog == nil {
		return nil, masterdata.ErrCatalogNotLoaded
	}
	if _, ok := catalog.Device(in.DeviceID); !ok {
		return nil, telemetry.UnknownDevice(in.DeviceID)
	}
	if _, ok := catalog.Parameter(in.ParameterCode); !ok {
		return nil, telemetry.UnknownParameter(in.ParameterCode)
	}
	if !catalog.MappingActive(in.DeviceID, in.ParameterCode) {
		return nil, telemetry.UnmappedParameter(in.DeviceID, in.ParameterCode)
	}

	reading := telemetry.Reading{
		ID:            i.newID(),
		DeviceID:      in.DeviceID,
		ParameterCode: in.ParameterCode,
		TS:            in.TimestampUTC.UTC(),
		Value:         *in.Value,
		ReceivedAt:    i.clock.Now().UTC(),
	}

	unlock, err := i.locker.Lock(ctx, in.DeviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, inserted, err := i.readings.Insert(ctx, reading)
	if err != nil {
		return nil, err
	}
	reading = stored
	result := &Result{Reading: reading, Duplicate: !inserted}
	if !inserted {
		// only a fresh insert moves alarm state; a redelivered reading may
		// predate transitions made since
		return result, nil
	}

	transitions, evalErr := i.evaluator.Evaluate(ctx, reading)
	result.Transitions = transitions
	result.EvaluationErr = evalErr

	if i.latest != nil {
		if err := i.latest.Put(ctx, reading); err != nil && i.logger != nil {
			i.logger.Printf("latest cache error: device=%s parameter=%s err=%v", reading.DeviceID, reading.ParameterCode, err)
		}
	}
	return result, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
