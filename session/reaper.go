package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically evicts idle sessions.
type Reaper struct {
	logger   *zap.Logger
	registry *Registry
	interval time.Duration
}

// NewReaper creates a Reaper ticking at the registry's configured interval.
func NewReaper(logger *zap.Logger, registry *Registry) *Reaper {
	return &Reaper{
		logger:   logger.Named("reaper"),
		registry: registry,
		interval: registry.config.ReapInterval,
	}
}

// Run ticks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("idle reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idle_timeout", r.registry.config.IdleTimeout))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("idle reaper stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one eviction pass and returns the number of sessions evicted.
func (r *Reaper) Tick(ctx context.Context) int {
	evicted := r.registry.evictIdle(ctx)
	if evicted > 0 {
		r.logger.Info("evicted idle sessions",
			zap.Int("evicted", evicted),
			zap.Int("remaining", r.registry.Len()))
	}
	return evicted
}
