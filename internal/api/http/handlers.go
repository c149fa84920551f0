package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"wellhead-monitor/internal/observability/metrics"
	readmodel "wellhead-monitor/internal/readmodel/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// ReadingService serves enriched reading queries.
type ReadingService interface {
	Readings(ctx context.Context, query telemetry.ReadingQuery) ([]readmodel.ReadingView, error)
	Latest(ctx context.Context, deviceID string, now time.Time) (*readmodel.DeviceLatest, error)
}

// ReadingsHandler serves reading history, the latest values of a device and
// the CSV export of reading history.
type ReadingsHandler struct {
	service ReadingService
	logger  *log.Logger
	now     func() time.Time
}

// NewReadingsHandler constructs a ReadingsHandler.
func NewReadingsHandler(service ReadingService, logger *log.Logger) (*ReadingsHandler, error) {
	if service == nil {
		return nil, errors.New("readings handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReadingsHandler{service: service, logger: logger, now: time.Now}, nil
}

// Register mounts the reading routes.
func (h *ReadingsHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/readings", h.handleReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices/{id}/latest", h.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/exports/readings.csv", h.handleExportCSV).Methods(http.MethodGet)
}

func (h *ReadingsHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	query, err := parseReadingQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	views, err := h.service.Readings(r.Context(), query)
	if err != nil {
		h.logger.Printf("readings query error: device=%s err=%v", query.DeviceID, err)
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ReadingsHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	latest, err := h.service.Latest(r.Context(), deviceID, h.now().UTC())
	if err != nil {
		if errors.Is(err, readmodel.ErrUnknownDevice) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("latest query error: device=%s err=%v", deviceID, err)
		http.Error(w, "query latest error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// handleExportCSV handles GET /api/v1/exports/readings.csv.
func (h *ReadingsHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query, err := parseReadingQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	views, err := h.service.Readings(r.Context(), query)
	if err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(start))
		h.logger.Printf("readings export error: device=%s err=%v", query.DeviceID, err)
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"reading_id",
		"field_id",
		"location_id",
		"device_id",
		"parameter_code",
		"unit",
		"ts",
		"value",
		"out_of_range",
		"received_at",
	})
	for _, view := range views {
		_ = writer.Write([]string{
			view.ID,
			view.FieldID,
			view.LocationID,
			view.DeviceID,
			view.ParameterCode,
			view.Unit,
			formatTime(view.TS),
			formatFloat(view.Value),
			strconv.FormatBool(view.OutOfRange),
			formatTime(view.ReceivedAt),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(start))
		h.logger.Printf("readings export error: write err=%v", err)
		return
	}
	metrics.ObserveExport("csv", metrics.ResultSuccess, time.Since(start))
}

func parseReadingQuery(r *http.Request) (telemetry.ReadingQuery, error) {
	values := r.URL.Query()
	query := telemetry.ReadingQuery{DeviceID: values.Get("device_id")}
	if query.DeviceID == "" {
		return telemetry.ReadingQuery{}, errors.New("device_id is required")
	}
	for _, code := range strings.Split(values.Get("parameter"), ",") {
		if code = strings.TrimSpace(code); code != "" {
			query.ParameterCodes = append(query.ParameterCodes, code)
		}
	}
	var err error
	if query.From, err = parseTimeQuery(r, "from"); err != nil {
		return telemetry.ReadingQuery{}, err
	}
	if query.To, err = parseTimeQuery(r, "to"); err != nil {
		return telemetry.ReadingQuery{}, err
	}
	if !query.To.After(query.From) {
		return telemetry.ReadingQuery{}, errors.New("to must be after from")
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return telemetry.ReadingQuery{}, errors.New("limit must be a positive integer")
		}
		query.Limit = limit
	}
	return query, nil
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		writeJSON(w, status, report)
	}
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
