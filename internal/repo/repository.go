package repo

import (
	"context"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// Ports (interfaces); memory and sqlite adapters implement them.

// EventStore keeps the audit trail of availability changes.
type EventStore interface {
	AppendEvent(ctx context.Context, ev domain.AppointmentEvent) error
	// RecentEvents returns at most n events, newest first.
	RecentEvents(ctx context.Context, n int) ([]domain.AppointmentEvent, error)
}

type Store interface {
	EventStore
	Close() error
}
