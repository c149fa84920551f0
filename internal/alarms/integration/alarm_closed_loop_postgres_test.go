package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alarmapp "wellhead-monitor/internal/alarms/application"
	alarms "wellhead-monitor/internal/alarms/domain"
	alarmrepo "wellhead-monitor/internal/alarms/infrastructure/postgres"
	masterapp "wellhead-monitor/internal/masterdata/application"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	mastermemory "wellhead-monitor/internal/masterdata/infrastructure/memory"
	masterdatarepo "wellhead-monitor/internal/masterdata/infrastructure/postgres"
	telemetryapp "wellhead-monitor/internal/telemetry/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	telemetrypostgres "wellhead-monitor/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAlarmClosedLoop_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "devices") ||
		!tableExists(db, "parameter_types") ||
		!tableExists(db, "device_parameter_mappings") ||
		!tableExists(db, "alarm_rules") ||
		!tableExists(db, "alarm_events") ||
		!tableExists(db, "readings") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	deviceID := "WH-IT-ALARM"
	ruleID := "rule-it-thp-high"

	_, _ = db.ExecContext(ctx, "DELETE FROM alarm_events WHERE device_id = $1", deviceID)
	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE device_id = $1", deviceID)

	seed := mastermemory.Wellheads(1, "FIELD-IT", "LOC-IT", masterdata.DefaultParameterTypes())
	seed.Devices[0].ID = deviceID
	for i := range seed.Mappings {
		seed.Mappings[i].DeviceID = deviceID
	}
	seed.Parameters = masterdata.DefaultParameterTypes()
	seed.Rules = []alarms.AlarmRule{{
		ID:            ruleID,
		Name:          "IT High THP",
		ParameterCode: "THP",
		Severity:      alarms.SeverityCritical,
		Operator:      alarms.OperatorGreater,
		Threshold:     3000,
		Active:        true,
	}}

	loader, err := masterdatarepo.NewCatalogLoader(masterdatarepo.NewAssetRepository(db), alarmrepo.NewAlarmRuleRepository(db))
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if err := loader.Seed(ctx, seed); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	catalog, err := masterapp.NewCatalogService(loader)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if _, err := catalog.Refresh(ctx); err != nil {
		t.Fatalf("refresh catalog: %v", err)
	}

	events := alarmrepo.NewAlarmEventRepository(db)
	evaluator, err := alarmapp.NewEvaluator(catalog, events)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	intake, err := telemetryapp.NewIntake(catalog, telemetrypostgres.NewReadingRepository(db), evaluator)
	if err != nil {
		t.Fatalf("new intake: %v", err)
	}

	base := time.Date(2020, 3, 1, 8, 0, 0, 0, time.UTC)
	send := func(offset time.Duration, value float64) *telemetryapp.Result {
		t.Helper()
		result, err := intake.Accept(ctx, "test", telemetry.ReadingInput{
			DeviceID:      deviceID,
			ParameterCode: "THP",
			TimestampUTC:  base.Add(offset),
			Value:         &value,
		})
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		return result
	}

	send(0, 2500)
	send(time.Minute, 3500)
	// replay of the breaching reading must not open a second event
	if replay := send(time.Minute, 3500); !replay.Duplicate {
		t.Fatalf("expected duplicate on replay")
	}
	send(2*time.Minute, 3600)

	open, err := events.FindOpen(ctx, alarms.PairKey{DeviceID: deviceID, RuleID: ruleID})
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open == nil || open.TriggeredValue != 3500 || !open.TriggeredAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected open event: %+v", open)
	}

	send(3*time.Minute, 2800)

	list, err := events.List(ctx, alarms.EventFilter{DeviceID: deviceID, RuleID: ruleID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 event, got %d", len(list))
	}
	closed := list[0]
	if closed.ClearedAt == nil || !closed.ClearedAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("unexpected cleared_at: %+v", closed.ClearedAt)
	}
	if closed.ClearedValue == nil || *closed.ClearedValue != 2800 {
		t.Fatalf("unexpected cleared_value: %+v", closed.ClearedValue)
	}

	send(4*time.Minute, 3900)
	list, err = events.List(ctx, alarms.EventFilter{DeviceID: deviceID, RuleID: ruleID, OpenOnly: true})
	if err != nil {
		t.Fatalf("list open events: %v", err)
	}
	if len(list) != 1 || list[0].ID == closed.ID {
		t.Fatalf("expected a new open event, got %+v", list)
	}
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	)`, name).Scan(&exists)
	return err == nil && exists
}
