package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"wellhead-monitor/internal/audit"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/observability/metrics"
)

// Catalog is the snapshot holder the handler reads and refreshes.
type Catalog interface {
	Current() *masterdata.Catalog
	Refresh(ctx context.Context) (*masterdata.Catalog, error)
}

// Handler serves catalog summaries and the on-demand refresh.
type Handler struct {
	catalog Catalog
	audit   audit.Logger
	logger  *log.Logger
}

// NewHandler constructs a handler. auditLog may be nil.
func NewHandler(catalog Catalog, auditLog audit.Logger, logger *log.Logger) (*Handler, error) {
	if catalog == nil {
		return nil, errors.New("catalog handler: nil catalog")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{catalog: catalog, audit: auditLog, logger: logger}, nil
}

// Register mounts the catalog routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/catalog", h.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/catalog/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/devices", h.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/parameters", h.handleParameters).Methods(http.MethodGet)
}

type summary struct {
	LoadedAt time.Time      `json:"loaded_at"`
	Counts   map[string]int `json:"counts"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	catalog := h.catalog.Current()
	if catalog == nil {
		http.Error(w, masterdata.ErrCatalogNotLoaded.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, summary{LoadedAt: catalog.LoadedAt(), Counts: catalog.Counts()})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.catalog.Refresh(r.Context())
	entry := audit.Entry{
		Action:       audit.ActionCatalogRefresh,
		ResourceType: "catalog",
		Result:       metrics.ResultSuccess,
	}
	if err != nil {
		entry.Result = metrics.ResultError
		entry.Metadata = audit.Metadata(map[string]string{"error": err.Error()})
		audit.Record(r.Context(), h.audit, h.logger, r, entry)
		h.logger.Printf("catalog refresh error: err=%v", err)
		http.Error(w, "catalog refresh error", http.StatusBadGateway)
		return
	}
	counts := catalog.Counts()
	entry.Metadata = audit.Metadata(counts)
	audit.Record(r.Context(), h.audit, h.logger, r, entry)
	writeJSON(w, http.StatusOK, summary{LoadedAt: catalog.LoadedAt(), Counts: counts})
}

type deviceView struct {
	masterdata.Device
	LocationName string `json:"location_name,omitempty"`
	FieldID      string `json:"field_id,omitempty"`
	FieldName    string `json:"field_name,omitempty"`
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	catalog := h.catalog.Current()
	if catalog == nil {
		http.Error(w, masterdata.ErrCatalogNotLoaded.Error(), http.StatusServiceUnavailable)
		return
	}
	devices := catalog.Devices()
	out := make([]deviceView, 0, len(devices))
	for _, device := range devices {
		view := deviceView{Device: device}
		if placement, ok := catalog.Placement(device.ID); ok {
			view.LocationName = placement.Location.Name
			view.FieldID = placement.Location.FieldID
			view.FieldName = placement.Field.Name
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleParameters(w http.ResponseWriter, r *http.Request) {
	catalog := h.catalog.Current()
	if catalog == nil {
		http.Error(w, masterdata.ErrCatalogNotLoaded.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, catalog.Parameters())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
