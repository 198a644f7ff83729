package detector

import (
	"sync"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// DefaultCapacity is how many events History keeps unless told otherwise.
const DefaultCapacity = 50

// History is a fixed-size ring of events; the oldest entry is overwritten first.
type History struct {
	mu   sync.RWMutex
	buf  []domain.AppointmentEvent
	next int
	size int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]domain.AppointmentEvent, capacity)}
}

func (h *History) Add(evs ...domain.AppointmentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range evs {
		h.buf[h.next] = ev
		h.next = (h.next + 1) % len(h.buf)
		if h.size < len(h.buf) {
			h.size++
		}
	}
}

// List returns the events newest first.
func (h *History) List() []domain.AppointmentEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.AppointmentEvent, 0, h.size)
	for i := 1; i <= h.size; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Cap() int { return len(h.buf) }
