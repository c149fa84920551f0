package application

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler ticks every rollup definition on its own refresh interval.
type Scheduler struct {
	aggregator *Aggregator
	clock      Clock
	logger     *log.Logger
	wg         sync.WaitGroup
}

// NewScheduler constructs a Scheduler.
func NewScheduler(aggregator *Aggregator, logger *log.Logger) *Scheduler {
	return &Scheduler{aggregator: aggregator, clock: aggregator.clock, logger: logger}
}

// Start launches one loop per definition. Each loop refreshes immediately,
// then on every tick; a slow refresh delays the next tick rather than
// overlapping it.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.aggregator == nil {
		return
	}
	for _, def := range s.aggregator.Definitions() {
		name, interval := def.Name, def.RefreshInterval
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, name, interval)
		}()
	}
	if s.logger != nil {
		s.logger.Printf("rollup scheduler started: definitions=%d", len(s.aggregator.Definitions()))
	}
}

// Wait blocks until every loop has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.runOnce(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, name)
		}
	}
}

// runOnce logs inside Refresh; errors are retried on the next tick.
func (s *Scheduler) runOnce(ctx context.Context, name string) {
	_, _ = s.aggregator.Refresh(ctx, name, s.clock.Now())
}
