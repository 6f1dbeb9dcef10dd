package domain

import "time"

// EventKind names a session lifecycle event pushed to live connections.
type EventKind string

const (
	EventLoggedOut       EventKind = "session.logged_out"
	EventPasswordChanged EventKind = "session.password_changed"
)

// Event is what a Notifier delivers for a subject.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}
