package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/eventbus"
)

type RelayConfig struct {
	// NotifyUnavailable also sends when a slot disappears.
	NotifyUnavailable bool
	// NotifyErrors sends browser and markup failures to the operator.
	NotifyErrors bool
	// RatePerSec paces deliveries; zero means 1.
	RatePerSec int
}

// Relay consumes engine events and turns the interesting ones into
// notifications.
type Relay struct {
	log     *zap.Logger
	out     *Dispatcher
	cfg     RelayConfig
	limiter *rate.Limiter
	now     func() time.Time
}

func NewRelay(logger *zap.Logger, out *Dispatcher, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Relay{
		log:     logger,
		out:     out,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
}

// Run delivers events until the channel is closed or ctx ends.
func (r *Relay) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			title, text, send := r.format(ev)
			if !send {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			results := r.out.Deliver(ctx, title, text)
			failed := 0
			for _, d := range results {
				if !d.Success {
					failed++
				}
			}
			r.log.Info("notification_delivered",
				zap.String("kind", string(ev.Kind)),
				zap.Int("channels", len(results)),
				zap.Int("failed", failed),
			)
		}
	}
}

func (r *Relay) format(ev eventbus.Event) (title, text string, ok bool) {
	switch ev.Kind {
	case eventbus.KindAppointment:
		a := ev.Appointment
		if a == nil {
			return "", "", false
		}
		switch a.Type {
		case domain.EventAvailable, domain.EventNewAvailable:
			title = "Appointment available"
		case domain.EventUnavailable:
			if !r.cfg.NotifyUnavailable {
				return "", "", false
			}
			title = "Appointment gone"
		default:
			return "", "", false
		}
		var b strings.Builder
		b.WriteString(a.Message)
		if when := r.relDate(a.Date); when != "" {
			fmt.Fprintf(&b, "\nDate is %s.", when)
		}
		fmt.Fprintf(&b, "\nDetected %s.", a.Timestamp.Local().Format("02.01.2006 15:04:05"))
		return title, b.String(), true

	case eventbus.KindError:
		e := ev.Error
		if !r.cfg.NotifyErrors || e == nil {
			return "", "", false
		}
		if e.Kind != "browser_fatal" && e.Kind != "structural" {
			return "", "", false
		}
		text = e.Message
		if e.Step != "" {
			text = fmt.Sprintf("step %s: %s", e.Step, e.Message)
		}
		return "Monitoring problem (" + e.Kind + ")", text, true
	}
	return "", "", false
}

// relDate renders a canonical date relative to today, e.g. "2 weeks from now".
func (r *Relay) relDate(canonical string) string {
	t, err := time.ParseInLocation("2006/01/02", canonical, time.Local)
	if err != nil {
		return ""
	}
	return humanize.RelTime(t, r.now(), "ago", "from now")
}
