package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestHousekeeping_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	revs := memory.NewRevocations()
	require.NoError(t, revs.Track(ctx, domain.RefreshSession{
		TokenID: "old", SubjectID: "alice", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, revs.Track(ctx, domain.RefreshSession{
		TokenID: "live", SubjectID: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	counter := ratelimit.NewMemoryCounter()
	_, _, err := counter.Incr(ctx, "default|10.0.0.1", time.Nanosecond)
	require.NoError(t, err)

	hk := NewHousekeepingService(revs, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute, counter)
	hk.Now = func() time.Time { return now.Add(time.Second) }

	sessions, counters := hk.RunOnce(ctx)
	require.Equal(t, 1, sessions)
	require.Equal(t, 1, counters)
	require.Equal(t, 1, revs.Len())
	require.Zero(t, counter.Len())
}

func TestHousekeeping_StartStop(t *testing.T) {
	hk := NewHousekeepingService(memory.NewRevocations(), slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	require.Equal(t, time.Hour, hk.Interval)

	hk.Start()
	hk.Stop()
}

func TestHousekeeping_StopWithoutStart(t *testing.T) {
	hk := NewHousekeepingService(memory.NewRevocations(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)

	done := make(chan struct{})
	go func() {
		hk.Stop()
		hk.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a service that never started")
	}
}
