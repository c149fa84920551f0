package application

import (
	"context"
	"errors"
	"testing"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
	"wellhead-monitor/internal/analytics/domain/rollup"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	"wellhead-monitor/internal/telemetry/infrastructure/memory"
)

type fixedCatalog struct{ catalog *masterdata.Catalog }

func (f fixedCatalog) Current() *masterdata.Catalog { return f.catalog }

func testCatalog(t *testing.T) *masterdata.Catalog {
	t.Helper()
	data := masterdata.CatalogData{
		Fields:     []masterdata.Field{{ID: "F1", Name: "North Field"}},
		Locations:  []masterdata.Location{{ID: "L1", FieldID: "F1", Name: "Pad 1"}},
		Devices:    []masterdata.Device{{ID: "WH-001", LocationID: "L1", Name: "Wellhead 1"}},
		Parameters: masterdata.DefaultParameterTypes(),
		Rules: []alarms.AlarmRule{
			{ID: "rule-thp-high", Name: "High THP", ParameterCode: "THP", Severity: alarms.SeverityCritical, Operator: alarms.OperatorGreater, Threshold: 3000, Active: true},
		},
	}
	catalog, err := masterdata.NewCatalog(data, time.Now())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return catalog
}

func newTestProjector(t *testing.T) *Projector {
	t.Helper()
	projector, err := NewProjector(fixedCatalog{testCatalog(t)})
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	return projector
}

func TestProjectorReadings(t *testing.T) {
	projector := newTestProjector(t)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	views := projector.Readings([]telemetry.Reading{
		{ID: "r1", DeviceID: "WH-001", ParameterCode: "THP", TS: ts, Value: 6000},
		{ID: "r2", DeviceID: "WH-404", ParameterCode: "XXX", TS: ts, Value: 1},
	})
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	first := views[0]
	if first.DeviceName != "Wellhead 1" || first.LocationName != "Pad 1" || first.FieldName != "North Field" {
		t.Fatalf("unexpected placement: %+v", first.Placement)
	}
	if first.ParameterName != "Tubing Head Pressure" || first.Unit != "psi" || !first.OutOfRange {
		t.Fatalf("unexpected parameter: %+v out=%v", first.Parameter, first.OutOfRange)
	}
	if views[1].DeviceID != "WH-404" || views[1].DeviceName != "" || views[1].OutOfRange {
		t.Fatalf("unknown metadata should keep ids only: %+v", views[1])
	}
}

func TestProjectorAlarms(t *testing.T) {
	projector := newTestProjector(t)
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(90 * time.Second)
	views := projector.Alarms([]alarms.AlarmEvent{
		{ID: "e1", RuleID: "rule-thp-high", DeviceID: "WH-001", ParameterCode: "THP", TriggeredAt: t1, ClearedAt: &t2},
		{ID: "e2", RuleID: "rule-gone", DeviceID: "WH-001", ParameterCode: "THP", TriggeredAt: t2},
	})
	if views[0].Status != StatusCleared || views[0].DurationSeconds == nil || *views[0].DurationSeconds != 90 {
		t.Fatalf("unexpected cleared view: %+v", views[0])
	}
	if views[0].RuleName != "High THP" || views[0].Threshold == nil || *views[0].Threshold != 3000 {
		t.Fatalf("rule not joined: %+v", views[0])
	}
	if views[1].Status != StatusOpen || views[1].Threshold != nil || views[1].Placement.FieldID != "F1" {
		t.Fatalf("unexpected open view: %+v", views[1])
	}
}

func TestProjectorBuckets(t *testing.T) {
	projector := newTestProjector(t)
	def := rollup.Definition{Name: "field_daily", Aggregates: []rollup.Aggregate{rollup.AggregateAvg, rollup.AggregateCount}}
	bucket := rollup.Bucket{Definition: "field_daily", GroupKey: rollup.GroupKey{FieldID: "F1", LocationID: "L1", ParameterCode: "THP"}}
	bucket.Add(10)
	bucket.Add(20)
	views := projector.Buckets(def, []rollup.Bucket{bucket})
	view := views[0]
	if view.FieldName != "North Field" || view.LocationName != "Pad 1" || view.ParameterName == "" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Values) != 2 || view.Values[rollup.AggregateAvg] != 15 || view.Values[rollup.AggregateCount] != 2 {
		t.Fatalf("unexpected values: %+v", view.Values)
	}
}

func TestReadingServiceLatestFallsBackToStorage(t *testing.T) {
	repo := memory.NewReadingRepository()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{100, 200} {
		_, _, err := repo.Insert(ctx, telemetry.Reading{ID: string(rune('a' + i)), DeviceID: "WH-001", ParameterCode: "THP", TS: now.Add(time.Duration(i-2) * time.Minute), Value: v})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	service, err := NewReadingService(repo, memory.NewLatestCache(), newTestProjector(t))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	latest, err := service.Latest(ctx, "WH-001", now)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest.Values) != 1 || latest.Values[0].Value != 200 || latest.Device.DeviceName != "Wellhead 1" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if _, err := service.Latest(ctx, "WH-404", now); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected unknown device, got %v", err)
	}
	if _, err := service.Readings(ctx, telemetry.ReadingQuery{}); err == nil {
		t.Fatalf("expected device required error")
	}
	views, err := service.Readings(ctx, telemetry.ReadingQuery{DeviceID: "WH-001"})
	if err != nil || len(views) != 2 {
		t.Fatalf("expected 2 readings, got %d %v", len(views), err)
	}
}
