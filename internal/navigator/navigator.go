// Package navigator drives the appointment site from the landing page to the
// calendar and probes every watched date.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/probe"
)

type State string

const (
	StateIdle              State = "idle"
	StateLoading           State = "loading"
	StateAwaitingForm      State = "awaiting_form"
	StateServicesSelected  State = "services_selected"
	StateLocationSubmitted State = "location_submitted"
	StateCalendarReady     State = "calendar_ready"
	StateProbing           State = "probing"
	StateError             State = "error"
)

// Request is everything one cycle needs from configuration.
type Request struct {
	URL      string
	Dates    []string
	Services domain.ServiceSelection
	Location domain.LocationSelection
}

// DateError is a per-date failure that did not abort the cycle.
type DateError struct {
	Date string
	Err  error
}

// Cycle is what one pass over the site produced.
type Cycle struct {
	Results    []domain.CheckResult
	Warnings   []string
	DateErrors []DateError
}

type Navigator struct {
	Logger      *zap.Logger
	Launcher    browser.Launcher
	Locator     *browser.Locator
	Layout      Layout
	StepTimeout time.Duration
	Settle      time.Duration

	pager *probe.Pager
	probe *probe.DateProbe

	mu    sync.Mutex
	state State

	sessMu sync.Mutex
	page   browser.Page
}

func New(logger *zap.Logger, launcher browser.Launcher, layout Layout, stepTimeout, settle time.Duration) *Navigator {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	loc := browser.NewLocator(logger, stepTimeout)
	return &Navigator{
		Logger:      logger,
		Launcher:    launcher,
		Locator:     loc,
		Layout:      layout,
		StepTimeout: stepTimeout,
		Settle:      settle,
		state:       StateIdle,
		pager: &probe.Pager{
			Logger:   logger,
			Locator:  loc,
			Caption:  layout.Caption,
			Prev:     layout.Prev,
			Next:     layout.Next,
			Settle:   settle,
			Timeout:  stepTimeout,
			MaxSteps: probe.MaxPagingSteps,
		},
		probe: &probe.DateProbe{
			Logger:  logger,
			Locator: loc,
			Markers: layout.markers(),
			Timeout: stepTimeout,
		},
	}
}

func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Navigator) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Ready reports whether a usable browser session is already open.
func (n *Navigator) Ready(ctx context.Context) bool {
	n.sessMu.Lock()
	p := n.page
	n.sessMu.Unlock()
	return p != nil && p.Alive(ctx)
}

// Init opens the browser session if none is usable.
func (n *Navigator) Init(ctx context.Context) error {
	_, err := n.session(ctx)
	return err
}

func (n *Navigator) session(ctx context.Context) (browser.Page, error) {
	n.sessMu.Lock()
	defer n.sessMu.Unlock()
	if n.page != nil {
		if n.page.Alive(ctx) {
			return n.page, nil
		}
		n.Logger.Warn("browser_session_unusable")
		_ = n.page.Close()
		n.page = nil
	}
	p, err := n.Launcher.Launch(ctx)
	if err != nil {
		var fatal *domain.BrowserFatalError
		if !errors.As(err, &fatal) {
			err = &domain.BrowserFatalError{Err: err}
		}
		return nil, err
	}
	n.page = p
	return p, nil
}

// reset drops the current session so the next cycle relaunches it.
func (n *Navigator) reset() {
	n.sessMu.Lock()
	defer n.sessMu.Unlock()
	if n.page != nil {
		_ = n.page.Close()
		n.page = nil
	}
}

func (n *Navigator) Close() error {
	n.reset()
	n.setState(StateIdle)
	return nil
}

// RunCycle walks the full flow and probes every date in req. On failure it
// returns what was gathered so far together with the error.
func (n *Navigator) RunCycle(ctx context.Context, req Request) (Cycle, error) {
	var cyc Cycle
	page, err := n.session(ctx)
	if err != nil {
		n.setState(StateError)
		return cyc, err
	}
	if err := n.run(ctx, page, req, &cyc); err != nil {
		n.setState(StateError)
		var fatal *domain.BrowserFatalError
		if errors.As(err, &fatal) {
			n.reset()
		}
		return cyc, err
	}
	n.setState(StateIdle)
	return cyc, nil
}

func (n *Navigator) run(ctx context.Context, page browser.Page, req Request, cyc *Cycle) error {
	n.setState(StateLoading)
	if err := n.do(ctx, "load", func(c context.Context) error { return page.Navigate(c, req.URL) }); err != nil {
		return err
	}

	n.setState(StateAwaitingForm)
	if _, err := n.Locator.Locate(ctx, page, n.Layout.Form); err != nil {
		return err
	}

	if err := n.selectServices(ctx, page, req.Services, cyc); err != nil {
		return err
	}
	n.setState(StateServicesSelected)

	if err := n.submitLocation(ctx, page, req.Location, cyc); err != nil {
		return err
	}
	n.setState(StateLocationSubmitted)

	if _, err := n.Locator.Locate(ctx, page, n.Layout.Calendar); err != nil {
		return err
	}
	n.setState(StateCalendarReady)

	dates := slices.Clone(req.Dates)
	slices.Sort(dates)
	n.setState(StateProbing)
	for _, date := range dates {
		res, err := n.checkDate(ctx, page, date)
		if err != nil {
			var limit *domain.NavigationLimitExceeded
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &limit) || errors.As(err, &cfgErr) {
				n.Logger.Warn("date_probe_skipped", zap.String("date", date), zap.Error(err))
				cyc.DateErrors = append(cyc.DateErrors, DateError{Date: date, Err: err})
				continue
			}
			return err
		}
		cyc.Results = append(cyc.Results, res)
	}
	return nil
}

func (n *Navigator) checkDate(ctx context.Context, page browser.Page, date string) (domain.CheckResult, error) {
	year, month, err := domain.YearMonth(date)
	if err != nil {
		return domain.CheckResult{}, err
	}
	if _, err := n.pager.Goto(ctx, page, year, month); err != nil {
		return domain.CheckResult{}, err
	}
	return n.probe.Probe(ctx, page, date)
}

// selectServices activates each enabled service. Only a dead session aborts;
// anything else is recorded as a warning.
func (n *Navigator) selectServices(ctx context.Context, page browser.Page, services domain.ServiceSelection, cyc *Cycle) error {
	for _, key := range services.Enabled() {
		ctl := n.Layout.Service(key)
		err := n.activate(ctx, page, ctl)
		if err == nil {
			continue
		}
		var fatal *domain.BrowserFatalError
		if errors.As(err, &fatal) {
			return err
		}
		n.Logger.Warn("service_selection_failed", zap.String("service", key), zap.Error(err))
		cyc.Warnings = append(cyc.Warnings, fmt.Sprintf("service %s: %v", key, err))
	}
	return nil
}

func (n *Navigator) activate(ctx context.Context, page browser.Page, ctl ServiceControl) error {
	sel, err := n.Locator.Locate(ctx, page, ctl.Activate)
	if err != nil {
		return err
	}
	if err := n.do(ctx, ctl.Activate.Name, func(c context.Context) error { return page.Click(c, sel) }); err != nil {
		return err
	}
	if err := n.settle(ctx, ctl.Activate.Name); err != nil {
		return err
	}
	var got string
	err = n.do(ctx, ctl.Activate.Name, func(c context.Context) error {
		v, err := page.Value(c, ctl.ValueSel)
		got = v
		return err
	})
	if err != nil {
		return err
	}
	if got != ctl.Expect {
		return fmt.Errorf("activation not confirmed: value %q, want %q", got, ctl.Expect)
	}
	return nil
}

// submitLocation picks the configured location, falling back to the first
// offered one with a warning, then submits the form.
func (n *Navigator) submitLocation(ctx context.Context, page browser.Page, want domain.LocationSelection, cyc *Cycle) error {
	step := n.Layout.Location
	sel, err := n.Locator.Locate(ctx, page, step)
	if err != nil {
		return err
	}
	var opts []browser.Option
	err = n.do(ctx, step.Name, func(c context.Context) error {
		o, err := page.Options(c, sel)
		opts = o
		return err
	})
	if err != nil {
		return err
	}
	choice, ok := chooseLocation(opts, want.Value)
	if !ok {
		return &domain.StructuralError{Step: step.Name, Tried: []string{sel + " option"}}
	}
	if choice.Value != want.Value {
		msg := fmt.Sprintf("location %q not offered; using %q (%s)", want.Value, choice.Value, choice.Text)
		n.Logger.Warn("location_fallback",
			zap.String("wanted", want.Value),
			zap.String("used", choice.Value),
			zap.String("name", choice.Text),
		)
		cyc.Warnings = append(cyc.Warnings, msg)
	}
	if err := n.do(ctx, step.Name, func(c context.Context) error { return page.SelectOption(c, sel, choice.Value) }); err != nil {
		return err
	}
	if err := n.settle(ctx, step.Name); err != nil {
		return err
	}

	submit, err := n.Locator.Locate(ctx, page, n.Layout.Submit)
	if err != nil {
		return err
	}
	if err := n.do(ctx, n.Layout.Submit.Name, func(c context.Context) error { return page.Click(c, submit) }); err != nil {
		return err
	}
	return n.settle(ctx, n.Layout.Submit.Name)
}

func chooseLocation(opts []browser.Option, value string) (browser.Option, bool) {
	var first *browser.Option
	for i := range opts {
		if opts[i].Value == "" {
			continue
		}
		if value != "" && opts[i].Value == value {
			return opts[i], true
		}
		if first == nil {
			first = &opts[i]
		}
	}
	if first == nil {
		return browser.Option{}, false
	}
	return *first, true
}

// do runs one page interaction under the step timeout.
func (n *Navigator) do(ctx context.Context, step string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, n.StepTimeout)
	defer cancel()
	err := fn(cctx)
	if err == nil {
		return nil
	}
	var fatal *domain.BrowserFatalError
	if errors.As(err, &fatal) {
		return err
	}
	return &domain.TransientPageError{Step: step, Err: err}
}

func (n *Navigator) settle(ctx context.Context, step string) error {
	if n.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(n.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &domain.TransientPageError{Step: step, Err: ctx.Err()}
	case <-t.C:
		return nil
	}
}
