// Package eventbus fans engine events out to registered subscribers.
package eventbus

import (
	"sync"
	"time"

	"github.com/hamed0406/slotwatch/internal/domain"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindError       Kind = "error"
	KindWarning     Kind = "warning"
	KindStatus      Kind = "status"
)

// ErrorInfo describes a failed cycle or probe.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Step    string `json:"step,omitempty"`
	Date    string `json:"date,omitempty"`
	Message string `json:"message"`
}

// Event is a tagged union; exactly one payload field is set, matching Kind.
type Event struct {
	Kind        Kind                     `json:"kind"`
	Time        time.Time                `json:"time"`
	Appointment *domain.AppointmentEvent `json:"appointment,omitempty"`
	Error       *ErrorInfo               `json:"error,omitempty"`
	Warning     string                   `json:"warning,omitempty"`
	Status      *domain.MonitoringStatus `json:"status,omitempty"`
}

// Bus delivers every published event to every subscriber in publish order.
// Publish never blocks: each subscriber has its own unbounded queue, so a slow
// consumer delays only itself and nothing is dropped.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

func New() *Bus {
	return &Bus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	out     chan Event
	abandon chan struct{}
	closing bool
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(e)
	}
}

// Subscribe registers a consumer. The returned channel is closed after the
// bus is closed and every queued event has been received, or right away on
// unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake:    make(chan struct{}, 1),
		out:     make(chan Event),
		abandon: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		s.pump()
	}()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.abandon)
		})
	}
}

// Close stops accepting events and waits until subscribers drained their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
			case <-s.abandon:
				return
			}
			continue
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.abandon:
			return
		}
	}
}
