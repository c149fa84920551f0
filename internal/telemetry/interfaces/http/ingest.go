package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	alarms "wellhead-monitor/internal/alarms/domain"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/telemetry/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	"wellhead-monitor/internal/telemetry/interfaces/payload"
)

const (
	transportHTTP = "http"
	maxBodyBytes  = 4 << 20
)

// Acceptor is the intake entry point shared by all transports.
type Acceptor interface {
	Accept(ctx context.Context, transport string, in telemetry.ReadingInput) (*application.Result, error)
}

// IngestHandler serves POST /ingest/readings.
type IngestHandler struct {
	intake Acceptor
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(intake Acceptor, logger *log.Logger) (*IngestHandler, error) {
	if intake == nil {
		return nil, errors.New("ingest handler: nil intake")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{intake: intake, logger: logger}, nil
}

type itemResult struct {
	Index       int                 `json:"index"`
	ReadingID   string              `json:"reading_id,omitempty"`
	Duplicate   bool                `json:"duplicate,omitempty"`
	Transitions []alarms.Transition `json:"transitions,omitempty"`
	Error       string              `json:"error,omitempty"`
	Field       string              `json:"field,omitempty"`
}

type ingestResponse struct {
	Accepted   int          `json:"accepted"`
	Duplicates int          `json:"duplicates"`
	Rejected   int          `json:"rejected"`
	Results    []itemResult `json:"results"`
}

// ServeHTTP ingests one reading or a batch. Readings are accepted one at a
// time; a rejected item does not stop the rest of the batch.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("reading ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	inputs, err := payload.Decode(body)
	if err != nil {
		h.logger.Printf("reading ingest: decode error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := ingestResponse{Results: make([]itemResult, 0, len(inputs))}
	for i, in := range inputs {
		item := itemResult{Index: i}
		result, err := h.intake.Accept(r.Context(), transportHTTP, in)
		var validation *telemetry.ValidationError
		switch {
		case errors.As(err, &validation):
			resp.Rejected++
			item.Error = validation.Reason
			item.Field = validation.Field
		case errors.Is(err, masterdata.ErrCatalogNotLoaded):
			http.Error(w, "metadata not loaded", http.StatusServiceUnavailable)
			return
		case err != nil:
			h.logger.Printf("reading ingest: accept error: device=%s parameter=%s err=%v", in.DeviceID, in.ParameterCode, err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		default:
			item.ReadingID = result.Reading.ID
			item.Duplicate = result.Duplicate
			item.Transitions = result.Transitions
			if result.Duplicate {
				resp.Duplicates++
			} else {
				resp.Accepted++
			}
		}
		resp.Results = append(resp.Results, item)
	}

	status := http.StatusOK
	if resp.Rejected == len(inputs) {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
