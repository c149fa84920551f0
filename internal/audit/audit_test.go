package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellhead-monitor/internal/auth"
)

func TestRecordCapturesIdentity(t *testing.T) {
	store := NewMemoryStore()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/refresh", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
	req.Header.Set("User-Agent", "ops-cli")
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "alice"))

	Record(req.Context(), store, nil, req, Entry{
		Action:       ActionCatalogRefresh,
		ResourceType: "catalog",
		Result:       "success",
		Metadata:     Metadata(map[string]int{"devices": 5}),
	})

	entries, err := store.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Actor != "alice" || got.Role != string(auth.RoleAdmin) {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.IP != "10.0.0.7" || got.UserAgent != "ops-cli" {
		t.Fatalf("unexpected client: ip=%s ua=%s", got.IP, got.UserAgent)
	}
	if got.ID == "" || got.PayloadDigest == "" || got.CreatedAt.IsZero() {
		t.Fatalf("entry not normalized: %+v", got)
	}
}

func TestMemoryStoreListFiltersNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	_ = store.Log(ctx, Entry{Action: ActionRollupRefresh, Actor: "a", CreatedAt: base})
	_ = store.Log(ctx, Entry{Action: ActionCatalogRefresh, Actor: "a", CreatedAt: base.Add(time.Minute)})
	_ = store.Log(ctx, Entry{Action: ActionRollupRefresh, Actor: "b", CreatedAt: base.Add(2 * time.Minute)})

	entries, _ := store.List(ctx, Query{Action: ActionRollupRefresh})
	if len(entries) != 2 || entries[0].Actor != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	entries, _ = store.List(ctx, Query{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)})
	if len(entries) != 1 || entries[0].Action != ActionCatalogRefresh {
		t.Fatalf("unexpected range entries: %+v", entries)
	}
}

func TestHandlerListsEntries(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Log(context.Background(), Entry{Action: ActionRollupRefresh, Actor: "ops"})
	handler, err := NewHandler(store)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit?action=rollup.refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit?from=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
