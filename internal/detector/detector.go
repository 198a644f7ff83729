// Package detector turns successive availability snapshots into change events.
package detector

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/slotwatch/internal/domain"
)

type entry struct {
	Available   bool
	DisplayDate string
}

type Detector struct {
	mu      sync.Mutex
	prev    map[string]entry
	history *History

	now   func() time.Time
	newID func() string
}

func New(capacity int) *Detector {
	return &Detector{
		prev:    map[string]entry{},
		history: NewHistory(capacity),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Apply compares results with the previous baseline, records and returns the
// resulting events. The baseline is rebuilt off to the side and swapped in
// whole; dates missing from results keep their earlier entry.
func (d *Detector) Apply(results []domain.CheckResult) []domain.AppointmentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := maps.Clone(d.prev)
	var events []domain.AppointmentEvent
	for _, r := range results {
		display := domain.DisplayDate(r.Date)
		prev, seen := d.prev[r.Date]

		var typ domain.EventType
		switch {
		case seen && !prev.Available && r.Available:
			typ = domain.EventAvailable
		case seen && prev.Available && !r.Available:
			typ = domain.EventUnavailable
		case !seen && r.Available:
			typ = domain.EventNewAvailable
		}
		if typ != "" {
			events = append(events, domain.AppointmentEvent{
				ID:        d.newID(),
				Type:      typ,
				Date:      r.Date,
				Message:   message(typ, display, r.Metadata),
				Timestamp: d.now(),
			})
		}
		next[r.Date] = entry{Available: r.Available, DisplayDate: display}
	}
	d.prev = next
	d.history.Add(events...)
	return events
}

// Forget drops the baseline for a date that is no longer watched.
func (d *Detector) Forget(date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := maps.Clone(d.prev)
	delete(next, date)
	d.prev = next
}

// Seed preloads history with events given oldest first.
func (d *Detector) Seed(events []domain.AppointmentEvent) {
	d.history.Add(events...)
}

func (d *Detector) History() []domain.AppointmentEvent { return d.history.List() }

func (d *Detector) HistoryCap() int { return d.history.Cap() }

func message(typ domain.EventType, display string, info *domain.SlotInfo) string {
	switch typ {
	case domain.EventAvailable:
		return fmt.Sprintf("Appointment available on %s%s", display, slotSuffix(info))
	case domain.EventNewAvailable:
		return fmt.Sprintf("Appointment already available on %s%s", display, slotSuffix(info))
	default:
		return fmt.Sprintf("Appointment on %s is no longer available", display)
	}
}

func slotSuffix(info *domain.SlotInfo) string {
	if info == nil {
		return ""
	}
	return fmt.Sprintf(" (%s, %s)", info.Time, info.Type)
}
