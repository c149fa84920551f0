package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	alarms "wellhead-monitor/internal/alarms/domain"
	"wellhead-monitor/internal/observability/metrics"
	readmodel "wellhead-monitor/internal/readmodel/application"
)

const (
	timeLayout = time.RFC3339

	statusOpen = "open"
	statusAll  = "all"

	defaultListLimit = 500
	maxListLimit     = 5000
)

// EventQuery reads alarm events.
type EventQuery interface {
	List(ctx context.Context, filter alarms.EventFilter) ([]alarms.AlarmEvent, error)
	Get(ctx context.Context, id string) (*alarms.AlarmEvent, error)
}

// Projector enriches events with metadata.
type Projector interface {
	Alarms(events []alarms.AlarmEvent) []readmodel.AlarmView
}

// Handler provides alarm read endpoints and the alarm history export.
type Handler struct {
	query     EventQuery
	projector Projector
	logger    *log.Logger
	now       func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(query EventQuery, projector Projector, logger *log.Logger) (*Handler, error) {
	if query == nil {
		return nil, errors.New("alarms handler: nil query service")
	}
	if projector == nil {
		return nil, errors.New("alarms handler: nil projector")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{query: query, projector: projector, logger: logger, now: time.Now}, nil
}

// Register mounts the alarm routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/alarms", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alarms/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/exports/alarms.pdf", h.handleExportPDF).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.query.List(r.Context(), filter)
	if err != nil {
		h.logger.Printf("alarms list error: device=%s err=%v", filter.DeviceID, err)
		http.Error(w, "list alarms error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.projector.Alarms(events))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	event, err := h.query.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			http.Error(w, "alarm not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("alarms get error: id=%s err=%v", id, err)
		http.Error(w, "get alarm error", http.StatusInternalServerError)
		return
	}
	views := h.projector.Alarms([]alarms.AlarmEvent{*event})
	writeJSON(w, http.StatusOK, views[0])
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.query.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		h.logger.Printf("alarms export error: device=%s err=%v", filter.DeviceID, err)
		http.Error(w, "list alarms error", http.StatusInternalServerError)
		return
	}
	body, err := BuildAlarmHistoryPDF(h.projector.Alarms(events), filter, h.now().UTC())
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		h.logger.Printf("alarms export error: render err=%v", err)
		http.Error(w, "render pdf error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.pdf"`)
	_, _ = w.Write(body)
}

func parseFilter(r *http.Request) (alarms.EventFilter, error) {
	values := r.URL.Query()
	filter := alarms.EventFilter{
		DeviceID:      values.Get("device_id"),
		RuleID:        values.Get("rule_id"),
		ParameterCode: values.Get("parameter"),
		Severity:      values.Get("severity"),
		Limit:         defaultListLimit,
	}
	switch values.Get("status") {
	case "", statusOpen:
		filter.OpenOnly = true
	case statusAll:
	default:
		return alarms.EventFilter{}, errors.New("status must be open or all")
	}
	var err error
	if filter.From, err = parseOptionalTime(r, "from"); err != nil {
		return alarms.EventFilter{}, err
	}
	if filter.To, err = parseOptionalTime(r, "to"); err != nil {
		return alarms.EventFilter{}, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return alarms.EventFilter{}, errors.New("to must be after from")
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return alarms.EventFilter{}, errors.New("limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
