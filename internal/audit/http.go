package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wellhead-monitor/internal/auth"
)

// Record logs an administrative action taken through r. Failures are logged
// and never fail the action itself.
func Record(ctx context.Context, logger Logger, errLog *log.Logger, r *http.Request, entry Entry) {
	if logger == nil {
		return
	}
	if r != nil {
		entry.Actor = auth.SubjectFromContext(r.Context())
		entry.Role = string(auth.RoleFromContext(r.Context()))
		entry.IP = ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}
	if entry.Actor == "" {
		entry.Actor = "anonymous"
	}
	if err := logger.Log(ctx, entry); err != nil && errLog != nil {
		errLog.Printf("audit log error: action=%s resource=%s err=%v", entry.Action, entry.ResourceID, err)
	}
}

// Metadata encodes value for Entry.Metadata.
func Metadata(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// Handler serves GET /api/v1/audit.
type Handler struct {
	store Store
}

// NewHandler constructs an audit list handler.
func NewHandler(store Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("audit handler: nil store")
	}
	return &Handler{store: store}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	values := r.URL.Query()
	query := Query{Action: values.Get("action"), Actor: values.Get("actor")}
	for key, target := range map[string]*time.Time{"from": &query.From, "to": &query.To} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, key+" must be RFC3339", http.StatusBadRequest)
			return
		}
		*target = parsed.UTC()
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}
	entries, err := h.store.List(r.Context(), query)
	if err != nil {
		http.Error(w, "list audit error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
