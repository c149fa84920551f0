package apihttp

import (
	"io"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wellhead-monitor/internal/auth"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r *mux.Router)
}

// RouterConfig collects the handlers served by the API.
type RouterConfig struct {
	// Ingest serves POST /ingest/readings behind IngestAuth.
	Ingest     http.Handler
	IngestAuth *auth.IngestAuthMiddleware
	// Auth guards /api/ routes; nil disables bearer auth.
	Auth   *auth.Middleware
	Routes []Registrar
	// Audit serves GET /api/v1/audit when set.
	Audit        http.Handler
	HealthChecks map[string]HealthCheck
	AccessLog    io.Writer
	Logger       *log.Logger
}

// NewRouter builds the HTTP handler: routes, auth, panic recovery and access log.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	if cfg.Ingest != nil {
		ingest := cfg.Ingest
		if cfg.IngestAuth != nil {
			ingest = cfg.IngestAuth.Wrap(ingest)
		}
		r.Handle("/ingest/readings", ingest).Methods(http.MethodPost)
	}
	for _, routes := range cfg.Routes {
		if routes != nil {
			routes.Register(r)
		}
	}
	if cfg.Audit != nil {
		r.Handle("/api/v1/audit", cfg.Audit).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(cfg.HealthChecks)).Methods(http.MethodGet)

	var handler http.Handler = r
	if cfg.Auth != nil {
		handler = cfg.Auth.Wrap(handler)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(logger))(handler)
	if cfg.AccessLog != nil {
		handler = handlers.CombinedLoggingHandler(cfg.AccessLog, handler)
	}
	return handler
}

// DefaultPolicy is the auth policy of the API: health, metrics and the
// HMAC-signed ingest path skip bearer auth.
func DefaultPolicy() auth.Policy {
	return auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
}
