package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"wellhead-monitor/internal/audit"
	"wellhead-monitor/internal/masterdata/application"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/masterdata/infrastructure/memory"
)

func newTestRouter(t *testing.T, loader masterdata.Loader) (*mux.Router, *application.CatalogService, *audit.MemoryStore) {
	t.Helper()
	service, err := application.NewCatalogService(loader)
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	store := audit.NewMemoryStore()
	handler, err := NewHandler(service, store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	router := mux.NewRouter()
	handler.Register(router)
	return router, service, store
}

func TestSummaryBeforeAndAfterRefresh(t *testing.T) {
	router, _, store := newTestRouter(t, memory.NewStaticLoader(memory.DefaultCatalogData()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before refresh, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/catalog/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got summary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Counts["devices"] != 5 || got.Counts["parameters"] != 17 {
		t.Fatalf("unexpected counts: %+v", got.Counts)
	}
	entries, _ := store.List(context.Background(), audit.Query{Action: audit.ActionCatalogRefresh})
	if len(entries) != 1 || entries[0].Result != "success" {
		t.Fatalf("unexpected audit: %+v", entries)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	var devices []deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if len(devices) != 5 || devices[0].ID != "WH-001" || devices[0].FieldID != "FIELD-01" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	fail := false
	loader := masterdata.LoaderFunc(func(ctx context.Context) (masterdata.CatalogData, error) {
		if fail {
			return masterdata.CatalogData{}, errors.New("db down")
		}
		return memory.DefaultCatalogData(), nil
	})
	router, service, store := newTestRouter(t, loader)
	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	before := service.Current()

	fail = true
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/catalog/refresh", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if service.Current() != before {
		t.Fatalf("snapshot replaced after failed refresh")
	}
	entries, _ := store.List(context.Background(), audit.Query{})
	if len(entries) != 1 || entries[0].Result != "error" {
		t.Fatalf("unexpected audit: %+v", entries)
	}
}
