package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	events []domain.AppointmentEvent
}

func New() *Store {
	return &Store{
		events: make([]domain.AppointmentEvent, 0, 128),
	}
}

func (m *Store) AppendEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Store) RecentEvents(ctx context.Context, n int) ([]domain.AppointmentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]domain.AppointmentEvent, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *Store) Close() error { return nil }
