package collector

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs collection sweeps on a periodic interval.
// It is stateless: each tick independently lists elapsed buckets, so any
// number of scheduler instances can run concurrently — the bucket lease
// keeps them from draining the same bucket twice.
type Scheduler struct {
	interval  time.Duration
	collector *Collector
}

// NewScheduler creates a periodic sweep scheduler for the collector.
func NewScheduler(interval time.Duration, collector *Collector) *Scheduler {
	return &Scheduler{interval: interval, collector: collector}
}

// Start begins periodic collection. Runs until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Collector] Starting collection scheduler", "interval", s.interval)

	for {
		select {
		case <-ticker.C:
			if err := s.collector.CollectOnce(ctx); err != nil {
				slog.Error("[Collector] Sweep failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("[Collector] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Collector] Running final sweep before shutdown...")
			if err := s.collector.CollectOnce(shutdownCtx); err != nil {
				slog.Error("[Collector] Final sweep failed", "error", err)
			}

			return nil
		}
	}
}
