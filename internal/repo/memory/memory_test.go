package memory

import (
	"context"
	"testing"

	"github.com/hamed0406/slotwatch/internal/domain"
)

func TestMemoryStore_RecentEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.AppendEvent(ctx, domain.AppointmentEvent{ID: id, Type: domain.EventAvailable}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	got, err := s.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected events: %+v", got)
	}

	all, _ := s.RecentEvents(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("n<=0 should return everything, got %d", len(all))
	}
}
