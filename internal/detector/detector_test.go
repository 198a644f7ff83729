package detector

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// ---- shared helpers ----

func res(date string, avail bool) domain.CheckResult {
	return domain.CheckResult{Date: date, Available: avail, CheckedAt: time.Now().UTC()}
}

func newTestDetector(capacity int) *Detector {
	d := New(capacity)
	n := 0
	d.newID = func() string { n++; return fmt.Sprintf("ev-%d", n) }
	d.now = func() time.Time { return time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC) }
	return d
}

// ---- tests ----

func TestApply_FalseToTrueEmitsAvailable(t *testing.T) {
	d := newTestDetector(0)
	d.Apply([]domain.CheckResult{res("2025/08/15", false)})

	evs := d.Apply([]domain.CheckResult{res("2025/08/15", true)})
	if len(evs) != 1 || evs[0].Type != domain.EventAvailable || evs[0].Date != "2025/08/15" {
		t.Fatalf("want one available event, got %+v", evs)
	}
	if evs[0].Message != "Appointment available on 15.08.2025" {
		t.Fatalf("unexpected message %q", evs[0].Message)
	}
}

func TestApply_FirstObservationAvailable(t *testing.T) {
	d := newTestDetector(0)
	evs := d.Apply([]domain.CheckResult{res("2025/08/20", true), res("2025/08/21", false)})
	want := []domain.AppointmentEvent{{
		ID:        "ev-1",
		Type:      domain.EventNewAvailable,
		Date:      "2025/08/20",
		Message:   "Appointment already available on 20.08.2025",
		Timestamp: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC),
	}}
	if diff := cmp.Diff(want, evs); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_TrueToFalseEmitsUnavailable(t *testing.T) {
	d := newTestDetector(0)
	d.Apply([]domain.CheckResult{res("2025/08/15", true)})
	evs := d.Apply([]domain.CheckResult{res("2025/08/15", false)})
	if len(evs) != 1 || evs[0].Type != domain.EventUnavailable {
		t.Fatalf("want unavailable event, got %+v", evs)
	}
}

func TestApply_RepeatSnapshotIsQuiet(t *testing.T) {
	d := newTestDetector(0)
	snap := []domain.CheckResult{res("2025/08/15", true), res("2025/08/16", false)}
	d.Apply(snap)
	if evs := d.Apply(snap); len(evs) != 0 {
		t.Fatalf("repeat snapshot must emit nothing, got %+v", evs)
	}
}

func TestApply_AbsentDatesKeepBaseline(t *testing.T) {
	d := newTestDetector(0)
	d.Apply([]domain.CheckResult{res("2025/08/15", true), res("2025/08/16", false)})

	// partial cycle only covered 08/16
	d.Apply([]domain.CheckResult{res("2025/08/16", false)})

	// 08/15 still true: no new_available on its next observation
	if evs := d.Apply([]domain.CheckResult{res("2025/08/15", true)}); len(evs) != 0 {
		t.Fatalf("want no event, got %+v", evs)
	}
}

func TestForget_NextObservationIsNew(t *testing.T) {
	d := newTestDetector(0)
	d.Apply([]domain.CheckResult{res("2025/08/15", true)})
	d.Forget("2025/08/15")
	evs := d.Apply([]domain.CheckResult{res("2025/08/15", true)})
	if len(evs) != 1 || evs[0].Type != domain.EventNewAvailable {
		t.Fatalf("want new_available after forget, got %+v", evs)
	}
}

func TestHistory_NewestFirstAndCapped(t *testing.T) {
	d := newTestDetector(DefaultCapacity)
	for i := 0; i < DefaultCapacity+1; i++ {
		date := fmt.Sprintf("2025/%02d/%02d", 1+i/28, 1+i%28)
		d.Apply([]domain.CheckResult{res(date, true)})
	}
	h := d.History()
	if len(h) != DefaultCapacity {
		t.Fatalf("history should be capped at %d, got %d", DefaultCapacity, len(h))
	}
	if h[0].ID != "ev-51" || h[len(h)-1].ID != "ev-2" {
		t.Fatalf("want newest ev-51 first and ev-1 evicted, got first=%s last=%s", h[0].ID, h[len(h)-1].ID)
	}
}

func TestHistory_SeedOldestFirst(t *testing.T) {
	h := NewHistory(3)
	h.Add(
		domain.AppointmentEvent{ID: "a"},
		domain.AppointmentEvent{ID: "b"},
		domain.AppointmentEvent{ID: "c"},
		domain.AppointmentEvent{ID: "d"},
	)
	var ids []string
	for _, ev := range h.List() {
		ids = append(ids, ev.ID)
	}
	if diff := cmp.Diff([]string{"d", "c", "b"}, ids); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if h.Len() != 3 || h.Cap() != 3 {
		t.Fatalf("len/cap: %d/%d", h.Len(), h.Cap())
	}
}
