package service

import (
	"context"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

// Notifier fans session events out to whatever is connected for a subject.
// The token service never calls it; the transport layer does once an
// operation has succeeded.
type Notifier interface {
	Notify(ctx context.Context, subjectID string, ev domain.Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, domain.Event) error { return nil }
