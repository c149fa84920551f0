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

	"wellhead-monitor/internal/analytics/application"
	"wellhead-monitor/internal/analytics/domain/rollup"
	"wellhead-monitor/internal/audit"
	"wellhead-monitor/internal/observability/metrics"
	readmodel "wellhead-monitor/internal/readmodel/application"
)

const (
	timeLayout = time.RFC3339

	defaultBucketLimit = 2000
	maxBucketLimit     = 20000
)

// Aggregator is the rollup surface the handler needs.
type Aggregator interface {
	Definitions() []rollup.Definition
	Definition(name string) (rollup.Definition, bool)
	LastRefresh() []application.RefreshResult
	Buckets(ctx context.Context, query rollup.BucketQuery) ([]rollup.Bucket, error)
	Refresh(ctx context.Context, name string, now time.Time) (application.RefreshResult, error)
}

// Projector enriches buckets with metadata.
type Projector interface {
	Buckets(def rollup.Definition, buckets []rollup.Bucket) []readmodel.BucketView
}

// Handler serves rollup definitions, buckets, manual refresh and the XLSX export.
type Handler struct {
	aggregator Aggregator
	projector  Projector
	audit      audit.Logger
	logger     *log.Logger
	now        func() time.Time
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records manual refreshes.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(aggregator Aggregator, projector Projector, opts ...HandlerOption) (*Handler, error) {
	if aggregator == nil {
		return nil, errors.New("rollup handler: nil aggregator")
	}
	if projector == nil {
		return nil, errors.New("rollup handler: nil projector")
	}
	h := &Handler{aggregator: aggregator, projector: projector, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the rollup routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/rollups", h.handleDefinitions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/rollups/{name}/buckets", h.handleBuckets).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/rollups/{name}/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/exports/rollups/{name}.xlsx", h.handleExportXLSX).Methods(http.MethodGet)
}

type definitionView struct {
	Name            string                     `json:"name"`
	BucketWidth     string                     `json:"bucket_width"`
	Filter          rollup.Filter              `json:"filter"`
	Dimensions      []rollup.Dimension         `json:"dimensions"`
	Aggregates      []rollup.Aggregate         `json:"aggregates"`
	RefreshInterval string                     `json:"refresh_interval"`
	Lookback        string                     `json:"lookback"`
	Lag             string                     `json:"lag"`
	LastRefresh     *application.RefreshResult `json:"last_refresh,omitempty"`
}

func (h *Handler) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	last := make(map[string]application.RefreshResult)
	for _, result := range h.aggregator.LastRefresh() {
		last[result.Definition] = result
	}
	defs := h.aggregator.Definitions()
	out := make([]definitionView, 0, len(defs))
	for _, def := range defs {
		view := definitionView{
			Name:            def.Name,
			BucketWidth:     def.BucketWidth.String(),
			Filter:          def.Filter,
			Dimensions:      def.Dimensions,
			Aggregates:      def.Aggregates,
			RefreshInterval: def.RefreshInterval.String(),
			Lookback:        def.Lookback.String(),
			Lag:             def.Lag.String(),
		}
		if result, ok := last[def.Name]; ok {
			view.LastRefresh = &result
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBuckets(w http.ResponseWriter, r *http.Request) {
	def, query, ok := h.resolveQuery(w, r)
	if !ok {
		return
	}
	buckets, err := h.aggregator.Buckets(r.Context(), query)
	if err != nil {
		h.logger.Printf("rollup buckets error: definition=%s err=%v", def.Name, err)
		http.Error(w, "list buckets error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.projector.Buckets(def, buckets))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.aggregator.Definition(name); !ok {
		http.Error(w, "unknown rollup", http.StatusNotFound)
		return
	}
	result, err := h.aggregator.Refresh(r.Context(), name, h.now().UTC())
	entry := audit.Entry{
		Action:       audit.ActionRollupRefresh,
		ResourceType: "rollup",
		ResourceID:   name,
		Result:       metrics.ResultSuccess,
		Metadata:     audit.Metadata(result),
	}
	if err != nil {
		entry.Result = metrics.ResultError
	}
	audit.Record(r.Context(), h.audit, h.logger, r, entry)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	def, query, ok := h.resolveQuery(w, r)
	if !ok {
		return
	}
	buckets, err := h.aggregator.Buckets(r.Context(), query)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		h.logger.Printf("rollup export error: definition=%s err=%v", def.Name, err)
		http.Error(w, "list buckets error", http.StatusInternalServerError)
		return
	}
	body, err := BuildRollupXLSX(def, h.projector.Buckets(def, buckets), h.now().UTC())
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		h.logger.Printf("rollup export error: definition=%s render err=%v", def.Name, err)
		http.Error(w, "render xlsx error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+def.Name+`.xlsx"`)
	_, _ = w.Write(body)
}

func (h *Handler) resolveQuery(w http.ResponseWriter, r *http.Request) (rollup.Definition, rollup.BucketQuery, bool) {
	name := mux.Vars(r)["name"]
	def, ok := h.aggregator.Definition(name)
	if !ok {
		http.Error(w, "unknown rollup", http.StatusNotFound)
		return rollup.Definition{}, rollup.BucketQuery{}, false
	}
	values := r.URL.Query()
	query := rollup.BucketQuery{
		Definition:    name,
		DeviceID:      values.Get("device_id"),
		ParameterCode: values.Get("parameter"),
		LocationID:    values.Get("location_id"),
		FieldID:       values.Get("field_id"),
		Limit:         defaultBucketLimit,
	}
	var err error
	if query.From, err = parseOptionalTime(r, "from"); err == nil {
		query.To, err = parseOptionalTime(r, "to")
	}
	if err == nil && !query.From.IsZero() && !query.To.IsZero() && !query.To.After(query.From) {
		err = errors.New("to must be after from")
	}
	if err == nil {
		query.Limit, err = parseLimit(values.Get("limit"))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return rollup.Definition{}, rollup.BucketQuery{}, false
	}
	return def, query, true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultBucketLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxBucketLimit {
		limit = maxBucketLimit
	}
	return limit, nil
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
