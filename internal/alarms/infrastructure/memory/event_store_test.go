package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
)

func TestEventStoreOpenIsConditional(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Open(ctx, alarms.AlarmEvent{ID: "e1", DeviceID: "WH-001", RuleID: "r1", TriggeredAt: t1}); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := store.Open(ctx, alarms.AlarmEvent{ID: "e2", DeviceID: "WH-001", RuleID: "r1", TriggeredAt: t1})
	if !errors.Is(err, alarms.ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
	if _, err := store.Open(ctx, alarms.AlarmEvent{ID: "e3", DeviceID: "WH-002", RuleID: "r1", TriggeredAt: t1}); err != nil {
		t.Fatalf("open other device: %v", err)
	}
}

func TestEventStoreCloseOnceThenNoop(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	if _, err := store.Open(ctx, alarms.AlarmEvent{ID: "e1", DeviceID: "WH-001", RuleID: "r1", TriggeredAt: t1}); err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := store.Close(ctx, "e1", alarms.Clearance{At: t2, Value: 2000, ReadingID: "rd2"})
	if err != nil || closed == nil {
		t.Fatalf("close: %v %v", closed, err)
	}
	if !closed.ClearedAt.Equal(t2) || *closed.ClearedValue != 2000 {
		t.Fatalf("unexpected clearance: %+v", closed)
	}
	again, err := store.Close(ctx, "e1", alarms.Clearance{At: t2.Add(time.Minute)})
	if err != nil || again != nil {
		t.Fatalf("second close should be a no-op, got %v %v", again, err)
	}
	open, err := store.FindOpen(ctx, alarms.PairKey{DeviceID: "WH-001", RuleID: "r1"})
	if err != nil || open != nil {
		t.Fatalf("expected no open event, got %v %v", open, err)
	}
}

func TestEventStoreFindOpenReportsViolation(t *testing.T) {
	store := NewEventStore()
	store.Insert(alarms.AlarmEvent{ID: "e1", DeviceID: "WH-001", RuleID: "r1"})
	store.Insert(alarms.AlarmEvent{ID: "e2", DeviceID: "WH-001", RuleID: "r1"})
	_, err := store.FindOpen(context.Background(), alarms.PairKey{DeviceID: "WH-001", RuleID: "r1"})
	if !errors.Is(err, alarms.ErrConsistencyViolation) {
		t.Fatalf("expected consistency violation, got %v", err)
	}
}

func TestEventStoreListOrdersNewestFirst(t *testing.T) {
	store := NewEventStore()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3"} {
		store.Insert(alarms.AlarmEvent{ID: id, DeviceID: "WH-001", RuleID: id, TriggeredAt: base.Add(time.Duration(i) * time.Hour)})
	}
	list, err := store.List(context.Background(), alarms.EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e3" || list[1].ID != "e2" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestEventStoreOpenIndexFollowsCloseAndInsert(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()
	key := alarms.PairKey{DeviceID: "WH-001", RuleID: "r1"}
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		at := t1.Add(time.Duration(i) * time.Hour)
		if _, err := store.Open(ctx, alarms.AlarmEvent{ID: id, DeviceID: key.DeviceID, RuleID: key.RuleID, TriggeredAt: at}); err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		open, err := store.FindOpen(ctx, key)
		if err != nil || open == nil || open.ID != id {
			t.Fatalf("expected %s open, got %+v %v", id, open, err)
		}
		if _, err := store.Close(ctx, id, alarms.Clearance{At: at.Add(time.Minute)}); err != nil {
			t.Fatalf("close %s: %v", id, err)
		}
		if open, err := store.FindOpen(ctx, key); err != nil || open != nil {
			t.Fatalf("expected no open event after closing %s, got %+v %v", id, open, err)
		}
	}

	// loading a cleared copy of an open event frees the slot
	if _, err := store.Open(ctx, alarms.AlarmEvent{ID: "e4", DeviceID: key.DeviceID, RuleID: key.RuleID, TriggeredAt: t1.Add(4 * time.Hour)}); err != nil {
		t.Fatalf("open e4: %v", err)
	}
	cleared := t1.Add(5 * time.Hour)
	store.Insert(alarms.AlarmEvent{ID: "e4", DeviceID: key.DeviceID, RuleID: key.RuleID, TriggeredAt: t1.Add(4 * time.Hour), ClearedAt: &cleared})
	if open, err := store.FindOpen(ctx, key); err != nil || open != nil {
		t.Fatalf("expected slot free after insert, got %+v %v", open, err)
	}
	if _, err := store.Open(ctx, alarms.AlarmEvent{ID: "e5", DeviceID: key.DeviceID, RuleID: key.RuleID, TriggeredAt: cleared}); err != nil {
		t.Fatalf("open e5: %v", err)
	}
}
