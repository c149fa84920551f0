package application

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wellhead-monitor/internal/analytics/domain/rollup"
	"wellhead-monitor/internal/analytics/infrastructure/memory"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	readingmemory "wellhead-monitor/internal/telemetry/infrastructure/memory"
)

type fixedCatalog struct{ catalog *masterdata.Catalog }

func (f fixedCatalog) Current() *masterdata.Catalog { return f.catalog }

func testCatalog(t *testing.T) *masterdata.Catalog {
	t.Helper()
	data := masterdata.CatalogData{
		Fields:     []masterdata.Field{{ID: "F1", Name: "North"}},
		Locations:  []masterdata.Location{{ID: "L1", FieldID: "F1", Name: "Pad 1"}},
		Devices:    []masterdata.Device{{ID: "D1", LocationID: "L1"}, {ID: "D2", LocationID: "L1"}},
		Parameters: masterdata.DefaultParameterTypes(),
	}
	catalog, err := masterdata.NewCatalog(data, time.Now())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return catalog
}

func hourlyTHP() rollup.Definition {
	return rollup.Definition{
		Name:            "thp_1h",
		BucketWidth:     time.Hour,
		Filter:          rollup.Filter{Codes: []string{"THP"}},
		Dimensions:      []rollup.Dimension{rollup.DimensionDevice, rollup.DimensionParameter},
		Aggregates:      []rollup.Aggregate{rollup.AggregateAvg, rollup.AggregateCount},
		RefreshInterval: time.Minute,
		Lookback:        6 * time.Hour,
		Lag:             time.Hour,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 1, hour, minute, 0, 0, time.UTC)
}

func insert(t *testing.T, repo *readingmemory.ReadingRepository, id, device, code string, ts time.Time, value float64) {
	t.Helper()
	if _, _, err := repo.Insert(context.Background(), telemetry.Reading{ID: id, DeviceID: device, ParameterCode: code, TS: ts, Value: value}); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func newTestAggregator(t *testing.T, defs []rollup.Definition, readings ReadingSource, buckets rollup.BucketRepository) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(defs, readings, buckets, fixedCatalog{testCatalog(t)})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return aggregator
}

func bucketAt(t *testing.T, repo *memory.BucketRepository, def string, start time.Time) *rollup.Bucket {
	t.Helper()
	list, err := repo.ListBuckets(context.Background(), rollup.BucketQuery{Definition: def, DeviceID: "D1", From: start, To: start.Add(time.Nanosecond)})
	if err != nil {
		t.Fatalf("list buckets: %v", err)
	}
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func TestAggregatorMergesLateReadingsInsideWindow(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	buckets := memory.NewBucketRepository()
	aggregator := newTestAggregator(t, []rollup.Definition{hourlyTHP()}, readings, buckets)
	ctx := context.Background()

	insert(t, readings, "r1", "D1", "THP", at(9, 10), 100)
	insert(t, readings, "r2", "D1", "THP", at(4, 10), 10)
	if _, err := aggregator.Refresh(ctx, "thp_1h", at(12, 0)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	bucket := bucketAt(t, buckets, "thp_1h", at(9, 0))
	if bucket == nil || bucket.Count != 1 || bucket.Mean() != 100 {
		t.Fatalf("unexpected 09:00 bucket: %+v", bucket)
	}

	// a late reading for 09:00 arrives; the bucket is still inside the window
	insert(t, readings, "r3", "D1", "THP", at(9, 40), 200)
	// a late reading for 04:00 arrives; that bucket ended before now-lookback
	insert(t, readings, "r4", "D1", "THP", at(4, 30), 20)
	if _, err := aggregator.Refresh(ctx, "thp_1h", at(12, 5)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	bucket = bucketAt(t, buckets, "thp_1h", at(9, 0))
	if bucket.Count != 2 || bucket.Mean() != 150 {
		t.Fatalf("late reading not merged: count=%d avg=%v", bucket.Count, bucket.Mean())
	}
	if old := bucketAt(t, buckets, "thp_1h", at(4, 0)); old != nil {
		t.Fatalf("bucket past lookback should not be written: %+v", old)
	}
}

func TestAggregatorLeavesBucketsPastLookbackUnchanged(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	buckets := memory.NewBucketRepository()
	aggregator := newTestAggregator(t, []rollup.Definition{hourlyTHP()}, readings, buckets)
	ctx := context.Background()

	insert(t, readings, "r1", "D1", "THP", at(9, 10), 100)
	insert(t, readings, "r2", "D1", "THP", at(9, 20), 200)
	if _, err := aggregator.Refresh(ctx, "thp_1h", at(12, 0)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := bucketAt(t, buckets, "thp_1h", at(9, 0))
	if before == nil || before.Count != 2 || before.Mean() != 150 {
		t.Fatalf("unexpected 09:00 bucket: %+v", before)
	}

	// at 17:00 the earliest recomputed bucket end is 11:00, so 09:00 is frozen
	insert(t, readings, "r3", "D1", "THP", at(9, 50), 600)
	result, err := aggregator.Refresh(ctx, "thp_1h", at(17, 0))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Window.Contains(at(9, 0)) {
		t.Fatalf("window %+v should exclude 09:00", result.Window)
	}
	after := bucketAt(t, buckets, "thp_1h", at(9, 0))
	if after == nil || after.Count != 2 || after.Mean() != 150 || after.Max != 200 {
		t.Fatalf("bucket past lookback changed: %+v", after)
	}
}

func TestAggregatorMatchesRecomputation(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	buckets := memory.NewBucketRepository()
	def := hourlyTHP()
	def.Aggregates = append(def.Aggregates, rollup.AggregateStdDev, rollup.AggregateMin, rollup.AggregateMax)
	aggregator := newTestAggregator(t, []rollup.Definition{def}, readings, buckets)

	values := []float64{3100, 2950.5, 3300.25, 2800, 3050}
	for i, v := range values {
		insert(t, readings, string(rune('a'+i)), "D1", "THP", at(8, 5*i), v)
	}
	if _, err := aggregator.Refresh(context.Background(), def.Name, at(12, 0)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	bucket := bucketAt(t, buckets, def.Name, at(8, 0))
	if bucket == nil {
		t.Fatalf("missing bucket")
	}
	var sum, min, max float64
	min, max = values[0], values[0]
	for _, v := range values {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)-1))
	if bucket.Count != int64(len(values)) || bucket.Min != min || bucket.Max != max || math.Abs(bucket.Mean()-mean) > 1e-9 {
		t.Fatalf("aggregate mismatch: %+v", bucket.Stats)
	}
	if math.Abs(bucket.StdDev()-std) > 1e-6 {
		t.Fatalf("stddev mismatch: got %v want %v", bucket.StdDev(), std)
	}
}

type failingReadings struct{}

func (failingReadings) ListRange(context.Context, telemetry.ReadingQuery) ([]telemetry.Reading, error) {
	return nil, errors.New("db down")
}

type routedReadings struct {
	ok   ReadingSource
	fail map[string]bool
}

func (r routedReadings) ListRange(ctx context.Context, q telemetry.ReadingQuery) ([]telemetry.Reading, error) {
	for _, code := range q.ParameterCodes {
		if r.fail[code] {
			return nil, errors.New("db down")
		}
	}
	return r.ok.ListRange(ctx, q)
}

func TestAggregatorFailureIsolatedPerDefinition(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	insert(t, readings, "r1", "D1", "THP", at(9, 10), 100)
	buckets := memory.NewBucketRepository()
	flt := hourlyTHP()
	flt.Name = "flt_1h"
	flt.Filter = rollup.Filter{Codes: []string{"FLT"}}
	aggregator := newTestAggregator(t, []rollup.Definition{hourlyTHP(), flt}, routedReadings{ok: readings, fail: map[string]bool{"FLT": true}}, buckets)

	err := aggregator.RefreshAll(context.Background(), at(12, 0))
	if !errors.Is(err, rollup.ErrAggregation) {
		t.Fatalf("expected aggregation error, got %v", err)
	}
	var aggErr *rollup.AggregationError
	if !errors.As(err, &aggErr) || aggErr.Definition != "flt_1h" || aggErr.Stage != "read" {
		t.Fatalf("unexpected error detail: %v", err)
	}
	if bucketAt(t, buckets, "thp_1h", at(9, 0)) == nil {
		t.Fatalf("healthy definition should still be refreshed")
	}
	last := aggregator.LastRefresh()
	if len(last) != 2 || last[0].Definition != "flt_1h" || last[0].Error == "" || last[1].Buckets != 1 {
		t.Fatalf("unexpected last refresh: %+v", last)
	}
}

func TestAggregatorUnknownDefinitionAndMissingCatalog(t *testing.T) {
	aggregator, err := NewAggregator([]rollup.Definition{hourlyTHP()}, failingReadings{}, memory.NewBucketRepository(), fixedCatalog{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	if _, err := aggregator.Refresh(context.Background(), "nope", at(12, 0)); !errors.Is(err, rollup.ErrUnknownDefinition) {
		t.Fatalf("expected unknown definition, got %v", err)
	}
	if _, err := aggregator.Refresh(context.Background(), "thp_1h", at(12, 0)); !errors.Is(err, masterdata.ErrCatalogNotLoaded) {
		t.Fatalf("expected catalog not loaded, got %v", err)
	}
	if _, err := NewAggregator([]rollup.Definition{hourlyTHP(), hourlyTHP()}, failingReadings{}, memory.NewBucketRepository(), fixedCatalog{}); !errors.Is(err, rollup.ErrInvalidDefinition) {
		t.Fatalf("expected duplicate definition error, got %v", err)
	}
}

type slowBuckets struct {
	inner   *memory.BucketRepository
	active  int32
	overlap int32
	calls   int32
}

func (s *slowBuckets) UpsertBuckets(ctx context.Context, buckets []rollup.Bucket) error {
	if atomic.AddInt32(&s.active, 1) > 1 {
		atomic.StoreInt32(&s.overlap, 1)
	}
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&s.active, -1)
	return s.inner.UpsertBuckets(ctx, buckets)
}

func (s *slowBuckets) ListBuckets(ctx context.Context, q rollup.BucketQuery) ([]rollup.Bucket, error) {
	return s.inner.ListBuckets(ctx, q)
}

func (s *slowBuckets) DeleteStale(ctx context.Context, definition string, window rollup.Window, refreshedBefore time.Time) (int, error) {
	return s.inner.DeleteStale(ctx, definition, window, refreshedBefore)
}

func TestAggregatorRefreshDoesNotOverlapItself(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	insert(t, readings, "r1", "D1", "THP", at(9, 10), 100)
	store := &slowBuckets{inner: memory.NewBucketRepository()}
	aggregator := newTestAggregator(t, []rollup.Definition{hourlyTHP()}, readings, store)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := aggregator.Refresh(context.Background(), "thp_1h", at(12, 0)); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&store.overlap) != 0 {
		t.Fatalf("refreshes of one definition overlapped")
	}
	if atomic.LoadInt32(&store.calls) != 5 {
		t.Fatalf("expected 5 upserts, got %d", store.calls)
	}
}

func TestAggregatorChunksUpserts(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	for hour := 5; hour < 11; hour++ {
		insert(t, readings, "D1-"+string(rune('a'+hour)), "D1", "THP", at(hour, 1), float64(hour))
		insert(t, readings, "D2-"+string(rune('a'+hour)), "D2", "THP", at(hour, 1), float64(hour))
	}
	store := memory.NewBucketRepository()
	aggregator, err := NewAggregator([]rollup.Definition{hourlyTHP()}, readings, store, fixedCatalog{testCatalog(t)}, WithUpsertChunks(5, 2))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	result, err := aggregator.Refresh(context.Background(), "thp_1h", at(12, 0))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Buckets != 12 || store.Upserts() != 12 {
		t.Fatalf("expected 12 buckets, got result=%d stored=%d", result.Buckets, store.Upserts())
	}
}

type swappableCatalog struct {
	mu      sync.Mutex
	catalog *masterdata.Catalog
}

func (s *swappableCatalog) Current() *masterdata.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

func (s *swappableCatalog) set(catalog *masterdata.Catalog) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func catalogWithD1At(t *testing.T, locationID string) *masterdata.Catalog {
	t.Helper()
	data := masterdata.CatalogData{
		Fields: []masterdata.Field{{ID: "F1", Name: "North"}},
		Locations: []masterdata.Location{
			{ID: "L1", FieldID: "F1", Name: "Pad 1"},
			{ID: "L2", FieldID: "F1", Name: "Pad 2"},
		},
		Devices:    []masterdata.Device{{ID: "D1", LocationID: locationID}},
		Parameters: masterdata.DefaultParameterTypes(),
	}
	catalog, err := masterdata.NewCatalog(data, time.Now())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return catalog
}

func TestAggregatorPrunesGroupsOfMovedDevice(t *testing.T) {
	readings := readingmemory.NewReadingRepository()
	insert(t, readings, "r1", "D1", "THP", at(9, 10), 100)
	buckets := memory.NewBucketRepository()
	source := &swappableCatalog{catalog: catalogWithD1At(t, "L1")}
	def := hourlyTHP()
	def.Name = "thp_location_1h"
	def.Dimensions = []rollup.Dimension{rollup.DimensionLocation, rollup.DimensionParameter}
	aggregator, err := NewAggregator([]rollup.Definition{def}, readings, buckets, source,
		WithClock(&steppingClock{now: at(12, 0)}))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	ctx := context.Background()

	if _, err := aggregator.Refresh(ctx, def.Name, at(12, 0)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	list, _ := buckets.ListBuckets(ctx, rollup.BucketQuery{Definition: def.Name})
	if len(list) != 1 || list[0].LocationID != "L1" {
		t.Fatalf("expected one L1 bucket, got %+v", list)
	}

	source.set(catalogWithD1At(t, "L2"))
	result, err := aggregator.Refresh(ctx, def.Name, at(12, 5))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", result.Pruned)
	}
	list, _ = buckets.ListBuckets(ctx, rollup.BucketQuery{Definition: def.Name})
	if len(list) != 1 || list[0].LocationID != "L2" || list[0].Count != 1 {
		t.Fatalf("expected only the L2 bucket, got %+v", list)
	}

	window := rollup.Window{From: at(6, 0), To: at(12, 0)}
	expected := rollup.Compute(def, window, []telemetry.Reading{{ID: "r1", DeviceID: "D1", ParameterCode: "THP", TS: at(9, 10), Value: 100}}, source.Current(), at(12, 5))
	if mismatches := rollup.Verify(def, expected.Buckets, list, 1e-9); len(mismatches) != 0 {
		t.Fatalf("buckets drift after move: %+v", mismatches)
	}
}
