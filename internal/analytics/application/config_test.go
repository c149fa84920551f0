package application

import (
	"errors"
	"testing"
	"time"

	"wellhead-monitor/internal/analytics/domain/rollup"
)

func TestParseDefinitions(t *testing.T) {
	raw := []byte(`
rollups:
  - name: pressure_15m
    bucket_width: 15m
    codes: [THP, FLP]
    dimensions: [device, parameter]
    aggregates: [avg, min, max, count]
    refresh_interval: 5m
    lookback: 1d
    lag: 15m
  - name: field_daily
    bucket_width: 24h
    data_types: [float]
    dimensions: [field, location, parameter]
    aggregates: [avg, count, stddev]
    refresh_interval: 1h
    lookback: 30d
    lag: 1d
`)
	defs, err := ParseDefinitions(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].BucketWidth != 15*time.Minute || defs[0].Lookback != 24*time.Hour || len(defs[0].Filter.Codes) != 2 {
		t.Fatalf("unexpected first definition: %+v", defs[0])
	}
	if defs[1].Lookback != 30*24*time.Hour || !defs[1].HasAggregate(rollup.AggregateStdDev) || !defs[1].HasDimension(rollup.DimensionField) {
		t.Fatalf("unexpected second definition: %+v", defs[1])
	}
}

func TestParseDefinitionsRejectsInvalid(t *testing.T) {
	cases := []string{
		`rollups: []`,
		"rollups:\n  - name: x\n    bucket_width: soon\n",
		"rollups:\n  - name: x\n    bucket_width: 1h\n    aggregates: [avg]\n    refresh_interval: 1m\n    lookback: 1h\n    lag: 2h\n",
	}
	for _, raw := range cases {
		if _, err := ParseDefinitions([]byte(raw)); !errors.Is(err, rollup.ErrInvalidDefinition) {
			t.Fatalf("expected invalid definition for %q, got %v", raw, err)
		}
	}
}

func TestDefaultDefinitionsValid(t *testing.T) {
	for _, def := range DefaultDefinitions() {
		if err := def.Validate(); err != nil {
			t.Fatalf("%s: %v", def.Name, err)
		}
	}
	defs, err := LoadDefinitions("")
	if err != nil || len(defs) != 3 {
		t.Fatalf("expected defaults, got %d %v", len(defs), err)
	}
}
