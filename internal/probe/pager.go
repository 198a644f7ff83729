package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/domain"
)

// MaxPagingSteps bounds how far the pager walks before giving up.
const MaxPagingSteps = 24

var monthNames = map[string]time.Month{
	"januar":    time.January,
	"februar":   time.February,
	"märz":      time.March,
	"maerz":     time.March,
	"april":     time.April,
	"mai":       time.May,
	"juni":      time.June,
	"juli":      time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October,
	"november":  time.November,
	"dezember":  time.December,
}

// ParseCaption reads a calendar caption such as "März 2025".
func ParseCaption(text string) (int, time.Month, error) {
	var (
		year  int
		month time.Month
	)
	for _, f := range strings.Fields(text) {
		f = strings.Trim(strings.ToLower(f), ".,")
		if m, ok := monthNames[f]; ok {
			month = m
			continue
		}
		if len(f) == 4 {
			if y, err := strconv.Atoi(f); err == nil {
				year = y
			}
		}
	}
	if year == 0 || month == 0 {
		return 0, 0, fmt.Errorf("unrecognised calendar caption %q", text)
	}
	return year, month, nil
}

func ordinal(year int, month time.Month) int { return year*12 + int(month) }

// Pager moves the displayed calendar one month at a time.
type Pager struct {
	Logger   *zap.Logger
	Locator  *browser.Locator
	Caption  browser.Step
	Prev     browser.Step
	Next     browser.Step
	Settle   time.Duration
	Timeout  time.Duration
	MaxSteps int
}

// Goto brings the calendar to year/month and returns how many paging clicks it issued.
func (p *Pager) Goto(ctx context.Context, page browser.Page, year int, month time.Month) (int, error) {
	limit := p.MaxSteps
	if limit <= 0 {
		limit = MaxPagingSteps
	}
	capSel, err := p.Locator.Locate(ctx, page, p.Caption)
	if err != nil {
		return 0, err
	}
	cur, err := p.current(ctx, page, capSel)
	if err != nil {
		return 0, err
	}
	target := ordinal(year, month)

	steps := 0
	for cur != target {
		if steps >= limit {
			return steps, &domain.NavigationLimitExceeded{Year: year, Month: month, Steps: steps}
		}
		step := p.Next
		if target < cur {
			step = p.Prev
		}
		sel, err := p.Locator.Locate(ctx, page, step)
		if err != nil {
			return steps, err
		}
		if err := p.click(ctx, page, step.Name, sel); err != nil {
			return steps, err
		}
		steps++
		if err := sleepCtx(ctx, p.Settle); err != nil {
			return steps, &domain.TransientPageError{Step: step.Name, Err: err}
		}
		if cur, err = p.current(ctx, page, capSel); err != nil {
			return steps, err
		}
	}
	if steps > 0 {
		p.Logger.Debug("calendar_paged",
			zap.Int("year", year),
			zap.Int("month", int(month)),
			zap.Int("steps", steps),
		)
	}
	return steps, nil
}

func (p *Pager) current(ctx context.Context, page browser.Page, sel string) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	text, err := page.Text(cctx, sel)
	if err != nil {
		return 0, stepErr(p.Caption.Name, err)
	}
	y, m, err := ParseCaption(text)
	if err != nil {
		p.Logger.Warn("calendar_caption_unreadable", zap.String("caption", text))
		return 0, &domain.StructuralError{Step: p.Caption.Name, Tried: []string{sel}}
	}
	return ordinal(y, m), nil
}

func (p *Pager) click(ctx context.Context, page browser.Page, step, sel string) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	if err := page.Click(cctx, sel); err != nil {
		return stepErr(step, err)
	}
	return nil
}

func (p *Pager) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}
