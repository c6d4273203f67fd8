package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often the sweeper evicts expired reports.
// Worst-case staleness is roughly TTL + sweep interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically evicts expired reports from the cache.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper. A zero interval falls back to
// DefaultSweepInterval.
func NewSweeper(cache *Cache, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in report sweeper", "panic", fmt.Sprint(r))
		}
	}()

	if removed := s.cache.Sweep(); removed > 0 {
		s.logger.Info("swept expired reports", "removed", removed, "remaining", s.cache.Len())
	}
}
