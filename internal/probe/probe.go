// Package probe reads availability out of the appointment calendar.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/domain"
)

const (
	ReasonAvailable = "available"
	ReasonNotFound  = "not found"
	ReasonDisabled  = "disabled"
	ReasonNoSlots   = "no slots"

	PlaceholderTime = "--:--"
	PlaceholderType = "unknown"
)

// Markers describes how a calendar cell encodes its state.
type Markers struct {
	Grid      browser.Step
	CellAttr  string // attribute holding the canonical date
	Available string // selector the cell itself must match to be bookable
	Disabled  string // selector that vetoes Available
	TimeSel   string // descendant holding the slot time
	TypeSel   string // descendant holding the appointment type
}

type DateProbe struct {
	Logger  *zap.Logger
	Locator *browser.Locator
	Markers Markers
	Timeout time.Duration
}

// Probe evaluates one date on the month currently displayed. A missing cell is
// a negative result, not an error.
func (d *DateProbe) Probe(ctx context.Context, page browser.Page, date string) (domain.CheckResult, error) {
	res := domain.CheckResult{Date: date, CheckedAt: time.Now().UTC()}

	gridSel, err := d.Locator.Locate(ctx, page, d.Markers.Grid)
	if err != nil {
		return res, err
	}
	cctx, cancel := context.WithTimeout(ctx, d.timeout())
	html, err := page.OuterHTML(cctx, gridSel)
	cancel()
	if err != nil {
		return res, stepErr(d.Markers.Grid.Name, err)
	}

	avail, reason, info, err := d.evaluate(html, date)
	if err != nil {
		return res, &domain.StructuralError{Step: d.Markers.Grid.Name, Tried: []string{gridSel}}
	}
	res.Available = avail
	res.Reason = reason
	res.Metadata = info
	return res, nil
}

func (d *DateProbe) evaluate(html, date string) (bool, string, *domain.SlotInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, "", nil, fmt.Errorf("parse calendar: %w", err)
	}
	cell := doc.Find(fmt.Sprintf(`[%s="%s"]`, d.Markers.CellAttr, date)).First()
	if cell.Length() == 0 {
		return false, ReasonNotFound, nil, nil
	}

	positive := d.Markers.Available != "" && cell.Is(d.Markers.Available)
	disabled := d.Markers.Disabled != "" && cell.Is(d.Markers.Disabled)
	switch {
	case positive && !disabled:
		return true, ReasonAvailable, d.metadata(cell, date), nil
	case disabled:
		return false, ReasonDisabled, nil, nil
	default:
		return false, ReasonNoSlots, nil, nil
	}
}

// metadata is best effort; anything unreadable falls back to placeholders.
func (d *DateProbe) metadata(cell *goquery.Selection, date string) *domain.SlotInfo {
	info := &domain.SlotInfo{Time: PlaceholderTime, Type: PlaceholderType}
	if d.Markers.TimeSel != "" {
		if v := strings.TrimSpace(cell.Find(d.Markers.TimeSel).First().Text()); v != "" {
			info.Time = v
		}
	}
	if d.Markers.TypeSel != "" {
		if v := strings.TrimSpace(cell.Find(d.Markers.TypeSel).First().Text()); v != "" {
			info.Type = v
		}
	}
	if info.Time == PlaceholderTime {
		d.Logger.Debug("slot_time_missing", zap.String("date", date))
	}
	return info
}

func (d *DateProbe) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 30 * time.Second
	}
	return d.Timeout
}

// stepErr wraps a page failure, keeping fatal session errors distinguishable.
func stepErr(step string, err error) error {
	var fatal *domain.BrowserFatalError
	if errors.As(err, &fatal) {
		return err
	}
	return &domain.TransientPageError{Step: step, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
