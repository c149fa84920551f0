package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	alarmapp "wellhead-monitor/internal/alarms/application"
	alarmmemory "wellhead-monitor/internal/alarms/infrastructure/memory"
	alarmhttp "wellhead-monitor/internal/alarms/interfaces/http"
	"wellhead-monitor/internal/auth"
	masterapp "wellhead-monitor/internal/masterdata/application"
	mastermemory "wellhead-monitor/internal/masterdata/infrastructure/memory"
	readmodel "wellhead-monitor/internal/readmodel/application"
	telemetryapp "wellhead-monitor/internal/telemetry/application"
	telemetrymemory "wellhead-monitor/internal/telemetry/infrastructure/memory"
	ingesthttp "wellhead-monitor/internal/telemetry/interfaces/http"
)

var (
	jwtSecret    = []byte("jwt-secret")
	ingestSecret = []byte("ingest-secret")
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	catalog, err := masterapp.NewCatalogService(mastermemory.NewStaticLoader(mastermemory.DefaultCatalogData()))
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}
	if _, err := catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}

	events := alarmmemory.NewEventStore()
	evaluator, err := alarmapp.NewEvaluator(catalog, events, alarmapp.WithLogger(quiet))
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	readings := telemetrymemory.NewReadingRepository()
	latest := telemetrymemory.NewLatestCache()
	intake, err := telemetryapp.NewIntake(catalog, readings, evaluator,
		telemetryapp.WithLatestCache(latest), telemetryapp.WithLogger(quiet))
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	ingest, err := ingesthttp.NewIngestHandler(intake, quiet)
	if err != nil {
		t.Fatalf("ingest handler: %v", err)
	}

	projector, err := readmodel.NewProjector(catalog)
	if err != nil {
		t.Fatalf("projector: %v", err)
	}
	readingService, err := readmodel.NewReadingService(readings, latest, projector)
	if err != nil {
		t.Fatalf("reading service: %v", err)
	}
	readingsHandler, err := NewReadingsHandler(readingService, quiet)
	if err != nil {
		t.Fatalf("readings handler: %v", err)
	}
	query, err := alarmapp.NewQueryService(events)
	if err != nil {
		t.Fatalf("query service: %v", err)
	}
	alarmsHandler, err := alarmhttp.NewHandler(query, projector, quiet)
	if err != nil {
		t.Fatalf("alarms handler: %v", err)
	}

	return NewRouter(RouterConfig{
		Ingest:     ingest,
		IngestAuth: auth.NewIngestAuthMiddleware(ingestSecret, 5*time.Minute),
		Auth:       auth.NewMiddleware(jwtSecret, DefaultPolicy()),
		Routes:     []Registrar{readingsHandler, alarmsHandler},
		HealthChecks: map[string]HealthCheck{
			"catalog": func(ctx context.Context) error {
				if catalog.Current() == nil {
					return errors.New("not loaded")
				}
				return nil
			},
		},
		Logger: quiet,
	})
}

func signedIngest(t *testing.T, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/ingest/readings", bytes.NewBufferString(body))
	req.Header.Set(auth.HeaderIngestTimestamp, ts)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(ingestSecret, ts, []byte(body)))
	return req
}

func withToken(t *testing.T, req *http.Request, role auth.Role) *http.Request {
	t.Helper()
	token, err := auth.IssueToken(jwtSecret, "tester", role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestOpensAlarmVisibleThroughReadPaths(t *testing.T) {
	server := newTestServer(t)

	body := `{"readings":[
		{"deviceId":"WH-001","parameterCode":"THP","timestampUtc":"2026-01-05T10:00:00Z","value":3500},
		{"deviceId":"WH-001","parameterCode":"THP","timestampUtc":"2026-01-05T10:00:30Z","value":4000}
	]}`
	rec := serve(server, signedIngest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(server, withToken(t, httptest.NewRequest(http.MethodGet, "/api/v1/alarms?device_id=WH-001", nil), auth.RoleViewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("alarms: expected 200, got %d", rec.Code)
	}
	var views []readmodel.AlarmView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode alarms: %v", err)
	}
	if len(views) != 1 || views[0].TriggeredValue != 3500 {
		t.Fatalf("expected one open alarm from the first breach, got %+v", views)
	}

	target := "/api/v1/readings?device_id=WH-001&parameter=THP&from=2026-01-05T00:00:00Z&to=2026-01-06T00:00:00Z"
	rec = serve(server, withToken(t, httptest.NewRequest(http.MethodGet, target, nil), auth.RoleViewer))
	var readings []readmodel.ReadingView
	if err := json.Unmarshal(rec.Body.Bytes(), &readings); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	if len(readings) != 2 || readings[0].DeviceName != "Wellhead WH-001" {
		t.Fatalf("unexpected readings: %+v", readings)
	}

	rec = serve(server, withToken(t, httptest.NewRequest(http.MethodGet, "/api/v1/devices/WH-001/latest", nil), auth.RoleViewer))
	var latest readmodel.DeviceLatest
	if err := json.Unmarshal(rec.Body.Bytes(), &latest); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	if len(latest.Values) != 1 || latest.Values[0].Value != 4000 {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestRouterAuth(t *testing.T) {
	server := newTestServer(t)

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	rec = serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/alarms", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("alarms without token: expected 401, got %d", rec.Code)
	}
	rec = serve(server, withToken(t, httptest.NewRequest(http.MethodGet, "/api/v1/exports/readings.csv?device_id=WH-001&from=2026-01-05T00:00:00Z&to=2026-01-06T00:00:00Z", nil), auth.RoleViewer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer export: expected 403, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/ingest/readings", bytes.NewBufferString(`{}`))
	rec = serve(server, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned ingest: expected 401, got %d", rec.Code)
	}
}

func TestReadingsRequireDeviceAndRange(t *testing.T) {
	server := newTestServer(t)
	for _, target := range []string{
		"/api/v1/readings?from=2026-01-05T00:00:00Z&to=2026-01-06T00:00:00Z",
		"/api/v1/readings?device_id=WH-001&from=2026-01-05T00:00:00Z",
		"/api/v1/readings?device_id=WH-001&from=2026-01-06T00:00:00Z&to=2026-01-05T00:00:00Z",
	} {
		rec := serve(server, withToken(t, httptest.NewRequest(http.MethodGet, target, nil), auth.RoleViewer))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	rec := serve(server, withToken(t, httptest.NewRequest(http.MethodGet, "/api/v1/devices/WH-999/latest", nil), auth.RoleViewer))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device: expected 404, got %d", rec.Code)
	}
}

func TestExportReadingsCSV(t *testing.T) {
	server := newTestServer(t)
	body := `{"deviceId":"WH-002","parameterCode":"FLT","timestampUtc":"2026-01-05T10:00:00Z","value":85.5}`
	if rec := serve(server, signedIngest(t, body)); rec.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	target := "/api/v1/exports/readings.csv?device_id=WH-002&from=2026-01-05T00:00:00Z&to=2026-01-06T00:00:00Z"
	rec := serve(server, withToken(t, httptest.NewRequest(http.MethodGet, target, nil), auth.RoleOperator))
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	lines := bytes.Split(bytes.TrimSpace(rec.Body.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !bytes.Contains(lines[1], []byte(",WH-002,FLT,")) || !bytes.Contains(lines[1], []byte(",85.5,")) {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}
