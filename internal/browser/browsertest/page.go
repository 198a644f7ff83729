// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/domain"
)

var ErrNotVisible = errors.New("element not visible")

// Page simulates a tab by tracking which selectors are visible and what they hold.
// A missing selector fails immediately instead of waiting for the timeout.
type Page struct {
	mu          sync.Mutex
	visible     map[string]bool
	values      map[string]string
	texts       map[string]string
	options     map[string][]browser.Option
	onClick     map[string]func(p *Page)
	clicks      []string
	navigations []string
	selected    map[string]string
	dead        bool
	closed      bool

	// NavigateErr, when set, is returned by every Navigate call.
	NavigateErr error
	// ClickErr, when set, is consulted before each click on a visible
	// element; a non-nil result fails that click.
	ClickErr func(sel string) error
	// Delay is slept (respecting ctx) before each interaction.
	Delay time.Duration

	Calendar *Calendar
}

func New() *Page {
	return &Page{
		visible:  map[string]bool{},
		values:   map[string]string{},
		texts:    map[string]string{},
		options:  map[string][]browser.Option{},
		onClick:  map[string]func(p *Page){},
		selected: map[string]string{},
	}
}

func (p *Page) Show(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.visible[s] = true
	}
}

func (p *Page) Hide(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		delete(p.visible, s)
	}
}

func (p *Page) SetValue(sel, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[sel] = v
}

func (p *Page) SetText(sel, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[sel] = v
}

func (p *Page) SetOptions(sel string, opts ...browser.Option) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.options[sel] = opts
}

// OnClick registers a handler run (with the page unlocked) after sel is clicked.
func (p *Page) OnClick(sel string, fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[sel] = fn
}

// Kill makes every later call fail as if the browser crashed.
func (p *Page) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Selected returns the value last chosen in the select element sel.
func (p *Page) Selected(sel string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected[sel]
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) enter(ctx context.Context) error {
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	dead := p.dead || p.closed
	p.mu.Unlock()
	if dead {
		return &domain.BrowserFatalError{Err: errors.New("target closed")}
	}
	return nil
}

func (p *Page) isVisible(sel string) bool {
	if p.visible[sel] {
		return true
	}
	if c := p.Calendar; c != nil && p.visible[c.GridSel] {
		switch sel {
		case c.CaptionSel, c.PrevSel, c.NextSel:
			return true
		}
	}
	return false
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	return p.NavigateErr
}

func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isVisible(sel) {
		return fmt.Errorf("%s: %w", sel, ErrNotVisible)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	if !p.isVisible(sel) {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", sel, ErrNotVisible)
	}
	if p.ClickErr != nil {
		if err := p.ClickErr(sel); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.clicks = append(p.clicks, sel)
	if c := p.Calendar; c != nil {
		switch sel {
		case c.NextSel:
			c.step(1)
		case c.PrevSel:
			c.step(-1)
		}
	}
	fn := p.onClick[sel]
	p.mu.Unlock()
	if fn != nil {
		fn(p)
	}
	return nil
}

func (p *Page) Value(ctx context.Context, sel string) (string, error) {
	if err := p.enter(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[sel]
	if !ok {
		return "", fmt.Errorf("%s: %w", sel, ErrNotVisible)
	}
	return v, nil
}

func (p *Page) SelectOption(ctx context.Context, sel, value string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.options[sel] {
		if o.Value == value {
			p.selected[sel] = value
			return nil
		}
	}
	return fmt.Errorf("%s: option %q missing", sel, value)
}

func (p *Page) Options(ctx context.Context, sel string) ([]browser.Option, error) {
	if err := p.enter(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Option(nil), p.options[sel]...), nil
}

func (p *Page) Text(ctx context.Context, sel string) (string, error) {
	if err := p.enter(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.Calendar; c != nil && sel == c.CaptionSel {
		return c.caption(), nil
	}
	v, ok := p.texts[sel]
	if !ok {
		return "", fmt.Errorf("%s: %w", sel, ErrNotVisible)
	}
	return v, nil
}

func (p *Page) OuterHTML(ctx context.Context, sel string) (string, error) {
	if err := p.enter(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.Calendar; c != nil && sel == c.GridSel {
		return c.html(), nil
	}
	return "", fmt.Errorf("%s: %w", sel, ErrNotVisible)
}

func (p *Page) Alive(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead && !p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Cell is one day in the simulated calendar.
type Cell struct {
	Available bool
	Disabled  bool
	Time      string
	Type      string
}

// Calendar renders a month grid the way the appointment site does.
type Calendar struct {
	Year  int
	Month time.Month

	CaptionSel string
	PrevSel    string
	NextSel    string
	GridSel    string

	Cells map[string]Cell
	// Frozen keeps the displayed month fixed regardless of paging clicks.
	Frozen bool

	Forward  int
	Backward int
}

func NewCalendar(year int, month time.Month) *Calendar {
	return &Calendar{
		Year:       year,
		Month:      month,
		CaptionSel: ".calendar-caption",
		PrevSel:    ".calendar-prev",
		NextSel:    ".calendar-next",
		GridSel:    "#calendar",
		Cells:      map[string]Cell{},
	}
}

var germanMonths = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}

func (c *Calendar) step(dir int) {
	if dir > 0 {
		c.Forward++
	} else {
		c.Backward++
	}
	if c.Frozen {
		return
	}
	t := time.Date(c.Year, c.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, dir, 0)
	c.Year, c.Month = t.Year(), t.Month()
}

func (c *Calendar) caption() string {
	return fmt.Sprintf("%s %d", germanMonths[c.Month-1], c.Year)
}

func (c *Calendar) html() string {
	prefix := fmt.Sprintf("%04d/%02d/", c.Year, int(c.Month))
	keys := make([]string, 0, len(c.Cells))
	for k := range c.Cells {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<table id="calendar"><tbody><tr>`)
	for _, k := range keys {
		cell := c.Cells[k]
		classes := []string{"day"}
		if cell.Available {
			classes = append(classes, "available")
		}
		if cell.Disabled {
			classes = append(classes, "disabled")
		}
		fmt.Fprintf(&b, `<td data-date="%s" class="%s">%s`, k, strings.Join(classes, " "), k[8:])
		if cell.Time != "" {
			fmt.Fprintf(&b, `<span class="slot-time">%s</span>`, cell.Time)
		}
		if cell.Type != "" {
			fmt.Fprintf(&b, `<span class="slot-type">%s</span>`, cell.Type)
		}
		b.WriteString(`</td>`)
	}
	b.WriteString(`</tr></tbody></table>`)
	return b.String()
}
