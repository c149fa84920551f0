package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	"wellhead-monitor/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// CatalogService holds the current metadata snapshot and swaps it on refresh.
// Readers never observe a partially loaded catalog.
type CatalogService struct {
	loader masterdata.Loader
	logger *log.Logger
	clock  Clock

	mu      sync.RWMutex
	current *masterdata.Catalog

	refreshMu sync.Mutex
}

// CatalogOption customizes the catalog service.
type CatalogOption func(*CatalogService)

// WithClock assigns a clock.
func WithClock(clock Clock) CatalogOption {
	return func(s *CatalogService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) CatalogOption {
	return func(s *CatalogService) {
		s.logger = logger
	}
}

// NewCatalogService constructs a service. Call Refresh before serving traffic.
func NewCatalogService(loader masterdata.Loader, opts ...CatalogOption) (*CatalogService, error) {
	if loader == nil {
		return nil, errors.New("catalog service: nil loader")
	}
	service := &CatalogService{
		loader: loader,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Refresh loads metadata and replaces the snapshot. On failure the previous
// snapshot stays in place.
func (s *CatalogService) Refresh(ctx context.Context) (*masterdata.Catalog, error) {
	if s == nil {
		return nil, errors.New("catalog service: nil service")
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	data, err := s.loader.Load(ctx)
	if err != nil {
		metrics.IncCatalogRefresh(metrics.ResultError)
		return nil, err
	}
	catalog, err := masterdata.NewCatalog(data, s.clock.Now())
	if err != nil {
		metrics.IncCatalogRefresh(metrics.ResultError)
		return nil, err
	}
	s.mu.Lock()
	s.current = catalog
	s.mu.Unlock()
	metrics.IncCatalogRefresh(metrics.ResultSuccess)
	return catalog, nil
}

// Current returns the latest snapshot, or nil before the first refresh.
func (s *CatalogService) Current() *masterdata.Catalog {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// RulesForParameter returns the rules of the current snapshot.
func (s *CatalogService) RulesForParameter(code string) []alarms.AlarmRule {
	return s.Current().RulesForParameter(code)
}

// StartAutoRefresh reloads the catalog every interval until ctx is done.
func (s *CatalogService) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil && s.logger != nil {
				s.logger.Printf("catalog refresh error: err=%v", err)
			}
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
