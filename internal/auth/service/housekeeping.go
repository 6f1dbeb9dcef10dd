package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

// Sweeper drops state that has outlived its window, such as in-process
// rate-limit counters.
type Sweeper interface {
	Sweep(now time.Time) int
}

// HousekeepingService periodically evicts expired refresh sessions and
// revocation records, and sweeps idle counters, to keep storage bounded.
type HousekeepingService struct {
	Revocations store.Revocations
	Sweepers    []Sweeper
	Logger      *slog.Logger
	Interval    time.Duration
	Now         func() time.Time

	// Internal channels for lifecycle management
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(revocations store.Revocations, logger *slog.Logger, interval time.Duration, sweepers ...Sweeper) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Revocations: revocations,
		Sweepers:    sweepers,
		Logger:      logger,
		Interval:    interval,
		Now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	s.startOnce.Do(func() {
		go s.run()
		s.Logger.Info("housekeeping service started", "interval", s.Interval)
	})
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
// Stopping a service that was never started returns immediately.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.startOnce.Do(func() { close(s.doneCh) })
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one cleanup pass and returns the number of revocation
// entries and counters removed. A failure in one step does not stop the
// others.
func (s *HousekeepingService) RunOnce(ctx context.Context) (sessions, counters int) {
	now := s.Now()

	n, err := s.Revocations.DeleteExpired(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh sessions", "error", err)
	} else {
		sessions = n
	}

	for _, sw := range s.Sweepers {
		counters += sw.Sweep(now)
	}

	s.Logger.Info("housekeeping cleanup completed",
		"expired_sessions", sessions,
		"swept_counters", counters,
	)
	return sessions, counters
}
