// Package realtime tracks live connections per subject and pushes session
// events to them.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
)

// Peer is one live connection of a subject.
type Peer interface {
	// SessionID is the session the connection authenticated with.
	SessionID() string
	Push(ev domain.Event) error
	Close() error
}

// Hub is the in-process Notifier. Events reach the sockets connected to this
// replica only.
type Hub struct {
	mu    sync.Mutex
	peers map[string]map[Peer]struct{}
	log   *slog.Logger
}

var _ service.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers: make(map[string]map[Peer]struct{}),
		log:   logger,
	}
}

// Join registers p under subjectID. The returned func removes it again and
// is safe to call more than once.
func (h *Hub) Join(subjectID string, p Peer) (leave func()) {
	h.mu.Lock()
	set, ok := h.peers[subjectID]
	if !ok {
		set = make(map[Peer]struct{})
		h.peers[subjectID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()

	return func() { h.remove(subjectID, p) }
}

func (h *Hub) remove(subjectID string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.peers[subjectID]
	if !ok {
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(h.peers, subjectID)
	}
}

// Len returns the number of live connections of subjectID.
func (h *Hub) Len(subjectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[subjectID])
}

// Notify pushes ev to every connection of subjectID. A password change
// closes all of them; a logout closes the ones of the logged out session.
func (h *Hub) Notify(ctx context.Context, subjectID string, ev domain.Event) error {
	h.mu.Lock()
	peers := make([]Peer, 0, len(h.peers[subjectID]))
	for p := range h.peers[subjectID] {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	var errs []error
	closed := 0
	for _, p := range peers {
		if err := p.Push(ev); err != nil {
			errs = append(errs, fmt.Errorf("push %s: %w", ev.Kind, err))
		}
		if closes(ev, p) {
			_ = p.Close()
			h.remove(subjectID, p)
			closed++
		}
	}

	if len(peers) > 0 {
		h.log.DebugContext(ctx, "session event delivered",
			slog.String("subject", subjectID),
			slog.String("kind", string(ev.Kind)),
			slog.Int("peers", len(peers)),
			slog.Int("closed", closed),
		)
	}
	return errors.Join(errs...)
}

func closes(ev domain.Event, p Peer) bool {
	switch ev.Kind {
	case domain.EventPasswordChanged:
		return true
	case domain.EventLoggedOut:
		return ev.SessionID != "" && ev.SessionID == p.SessionID()
	default:
		return false
	}
}

// Close closes every connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.peers
	h.peers = make(map[string]map[Peer]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for p := range set {
			_ = p.Close()
		}
	}
}
