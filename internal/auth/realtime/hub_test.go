package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	sid     string
	pushErr error

	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func (p *fakePeer) SessionID() string { return p.sid }

func (p *fakePeer) Push(ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.pushErr
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) state() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events), p.closed
}

func TestHubNotify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		event      domain.Event
		wantClosed map[string]bool
		wantLeft   int
	}{
		{
			name:       "password change closes every socket",
			event:      domain.Event{Kind: domain.EventPasswordChanged},
			wantClosed: map[string]bool{"s1": true, "s2": true},
			wantLeft:   0,
		},
		{
			name:       "logout closes the matching session only",
			event:      domain.Event{Kind: domain.EventLoggedOut, SessionID: "s1"},
			wantClosed: map[string]bool{"s1": true, "s2": false},
			wantLeft:   1,
		},
		{
			name:       "logout without a session id closes nothing",
			event:      domain.Event{Kind: domain.EventLoggedOut},
			wantClosed: map[string]bool{"s1": false, "s2": false},
			wantLeft:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hub := NewHub(nil)
			p1 := &fakePeer{sid: "s1"}
			p2 := &fakePeer{sid: "s2"}
			other := &fakePeer{sid: "s3"}
			hub.Join("alice", p1)
			hub.Join("alice", p2)
			hub.Join("bob", other)

			tt.event.At = time.Now()
			require.NoError(t, hub.Notify(context.Background(), "alice", tt.event))

			for _, p := range []*fakePeer{p1, p2} {
				n, closed := p.state()
				require.Equal(t, 1, n, "every socket of the subject gets the event")
				require.Equal(t, tt.wantClosed[p.sid], closed, p.sid)
			}
			n, closed := other.state()
			require.Zero(t, n)
			require.False(t, closed)

			require.Equal(t, tt.wantLeft, hub.Len("alice"))
			require.Equal(t, 1, hub.Len("bob"))
		})
	}
}

func TestHubNotifyCollectsPushErrors(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	boom := errors.New("write: broken pipe")
	hub.Join("alice", &fakePeer{sid: "s1", pushErr: boom})
	hub.Join("alice", &fakePeer{sid: "s2"})

	err := hub.Notify(context.Background(), "alice", domain.Event{Kind: domain.EventLoggedOut})
	require.ErrorIs(t, err, boom)
}

func TestHubLeaveAndClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	p := &fakePeer{sid: "s1"}
	leave := hub.Join("alice", p)
	require.Equal(t, 1, hub.Len("alice"))

	leave()
	leave()
	require.Zero(t, hub.Len("alice"))
	require.NoError(t, hub.Notify(context.Background(), "alice", domain.Event{Kind: domain.EventPasswordChanged}))

	q := &fakePeer{sid: "s2"}
	hub.Join("bob", q)
	hub.Close()
	_, closed := q.state()
	require.True(t, closed)
	require.Zero(t, hub.Len("bob"))
}
