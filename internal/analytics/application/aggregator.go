package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wellhead-monitor/internal/analytics/domain/rollup"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/observability/metrics"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

const (
	defaultChunkSize   = 500
	defaultParallelism = 4
)

// ReadingSource lists raw readings for recomputation.
type ReadingSource interface {
	ListRange(ctx context.Context, query telemetry.ReadingQuery) ([]telemetry.Reading, error)
}

// CatalogSource exposes the current metadata snapshot.
type CatalogSource interface {
	Current() *masterdata.Catalog
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// RefreshResult describes the last refresh of a definition.
type RefreshResult struct {
	Definition string        `json:"definition"`
	At         time.Time     `json:"at"`
	Window     rollup.Window `json:"window"`
	Readings   int           `json:"readings"`
	Skipped    int           `json:"skipped"`
	Buckets    int           `json:"buckets"`
	Pruned     int           `json:"pruned"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type definitionState struct {
	def rollup.Definition
	// sem admits one refresh at a time; a waiting caller can give up via ctx.
	sem  chan struct{}
	mu   sync.Mutex
	last *RefreshResult
}

// Aggregator recomputes rollup buckets from raw readings.
type Aggregator struct {
	states      map[string]*definitionState
	order       []string
	readings    ReadingSource
	buckets     rollup.BucketRepository
	catalog     CatalogSource
	clock       Clock
	logger      *log.Logger
	chunkSize   int
	parallelism int
}

// AggregatorOption customizes the aggregator.
type AggregatorOption func(*Aggregator)

// WithClock assigns a clock.
func WithClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithUpsertChunks sets the bucket batch size and how many batches are
// written in parallel.
func WithUpsertChunks(size, parallelism int) AggregatorOption {
	return func(a *Aggregator) {
		if size > 0 {
			a.chunkSize = size
		}
		if parallelism > 0 {
			a.parallelism = parallelism
		}
	}
}

// NewAggregator constructs an aggregator over validated definitions.
func NewAggregator(defs []rollup.Definition, readings ReadingSource, buckets rollup.BucketRepository, catalog CatalogSource, opts ...AggregatorOption) (*Aggregator, error) {
	if readings == nil {
		return nil, errors.New("aggregator: nil reading source")
	}
	if buckets == nil {
		return nil, errors.New("aggregator: nil bucket repository")
	}
	if catalog == nil {
		return nil, errors.New("aggregator: nil catalog")
	}
	a := &Aggregator{
		states:      make(map[string]*definitionState, len(defs)),
		readings:    readings,
		buckets:     buckets,
		catalog:     catalog,
		clock:       systemClock{},
		chunkSize:   defaultChunkSize,
		parallelism: defaultParallelism,
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, ok := a.states[def.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %s", rollup.ErrInvalidDefinition, def.Name)
		}
		a.states[def.Name] = &definitionState{def: def, sem: make(chan struct{}, 1)}
		a.order = append(a.order, def.Name)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Definitions returns the definitions in configuration order.
func (a *Aggregator) Definitions() []rollup.Definition {
	out := make([]rollup.Definition, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.states[name].def)
	}
	return out
}

// Definition looks up a definition by name.
func (a *Aggregator) Definition(name string) (rollup.Definition, bool) {
	state, ok := a.states[name]
	if !ok {
		return rollup.Definition{}, false
	}
	return state.def, true
}

// LastRefresh returns the most recent refresh outcome per definition.
func (a *Aggregator) LastRefresh() []RefreshResult {
	var out []RefreshResult
	for _, name := range a.order {
		state := a.states[name]
		state.mu.Lock()
		if state.last != nil {
			out = append(out, *state.last)
		}
		state.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition < out[j].Definition })
	return out
}

// Buckets lists maintained buckets of a known definition.
func (a *Aggregator) Buckets(ctx context.Context, query rollup.BucketQuery) ([]rollup.Bucket, error) {
	if _, ok := a.states[query.Definition]; !ok {
		return nil, fmt.Errorf("%w: %s", rollup.ErrUnknownDefinition, query.Definition)
	}
	return a.buckets.ListBuckets(ctx, query)
}

// Refresh recomputes the window of one definition as of now. Calls for the
// same definition never overlap; a second caller waits for the first.
func (a *Aggregator) Refresh(ctx context.Context, name string, now time.Time) (RefreshResult, error) {
	state, ok := a.states[name]
	if !ok {
		return RefreshResult{}, fmt.Errorf("%w: %s", rollup.ErrUnknownDefinition, name)
	}
	select {
	case state.sem <- struct{}{}:
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
	defer func() { <-state.sem }()

	start := time.Now()
	result, err := a.refresh(ctx, state.def, now)
	result.Duration = time.Since(start)

	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
		result.Error = err.Error()
		if a.logger != nil {
			a.logger.Printf("rollup refresh error: definition=%s err=%v", name, err)
		}
	}
	metrics.ObserveRollupRefresh(name, outcome, result.Duration, result.Buckets)

	state.mu.Lock()
	last := result
	state.last = &last
	state.mu.Unlock()
	return result, err
}

// RefreshAll refreshes every definition in parallel. A failing definition
// does not stop the others; failures are joined.
func (a *Aggregator) RefreshAll(ctx context.Context, now time.Time) error {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	for _, name := range a.order {
		name := name
		group.Go(func() error {
			if _, err := a.Refresh(ctx, name, now); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

func (a *Aggregator) refresh(ctx context.Context, def rollup.Definition, now time.Time) (RefreshResult, error) {
	window := def.Window(now)
	result := RefreshResult{Definition: def.Name, At: now.UTC(), Window: window}
	if window.Empty() {
		return result, nil
	}
	catalog := a.catalog.Current()
	if catalog == nil {
		return result, &rollup.AggregationError{Definition: def.Name, Stage: "catalog", Err: masterdata.ErrCatalogNotLoaded}
	}
	// stored timestamps keep microseconds; rows of this refresh must compare
	// equal to the prune cutoff
	refreshedAt := a.clock.Now().UTC().Truncate(time.Microsecond)

	var readings []telemetry.Reading
	if codes := rollup.ParameterCodes(def, catalog.Parameters()); len(codes) > 0 {
		var err error
		readings, err = a.readings.ListRange(ctx, telemetry.ReadingQuery{
			ParameterCodes: codes,
			From:           window.From,
			To:             window.To,
		})
		if err != nil {
			return result, &rollup.AggregationError{Definition: def.Name, Stage: "read", Err: err}
		}
	}
	result.Readings = len(readings)

	computed := rollup.Compute(def, window, readings, catalog, refreshedAt)
	result.Skipped = computed.Skipped
	if err := a.upsert(ctx, computed.Buckets); err != nil {
		return result, &rollup.AggregationError{Definition: def.Name, Stage: "upsert", Err: err}
	}
	result.Buckets = len(computed.Buckets)

	// groups without readings in this recompute (a device moved location, a
	// reading set emptied) keep old rows until pruned
	pruned, err := a.buckets.DeleteStale(ctx, def.Name, window, refreshedAt)
	if err != nil {
		return result, &rollup.AggregationError{Definition: def.Name, Stage: "prune", Err: err}
	}
	result.Pruned = pruned
	return result, nil
}

// upsert writes disjoint chunks in parallel. Every bucket key occurs once
// per refresh, so chunks never touch the same row.
func (a *Aggregator) upsert(ctx context.Context, buckets []rollup.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.parallelism)
	for start := 0; start < len(buckets); start += a.chunkSize {
		end := start + a.chunkSize
		if end > len(buckets) {
			end = len(buckets)
		}
		chunk := buckets[start:end]
		group.Go(func() error {
			return a.buckets.UpsertBuckets(groupCtx, chunk)
		})
	}
	return group.Wait()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
