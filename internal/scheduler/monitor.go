// Package scheduler owns the monitoring engine: it runs navigator cycles on an
// interval, never two at once, and turns their results into change events.
package scheduler

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/detector"
	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/eventbus"
	"github.com/hamed0406/slotwatch/internal/navigator"
	"github.com/hamed0406/slotwatch/internal/repo"
)

type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateWaiting      State = "waiting"
	StateChecking     State = "checking"
)

const (
	MaxIntervalSeconds = 3600
	maxMinutes         = 60
	maxSeconds         = 59
)

var ErrClosed = errors.New("monitor closed")

// Runner executes one navigator cycle. *navigator.Navigator implements it.
type Runner interface {
	Ready(ctx context.Context) bool
	Init(ctx context.Context) error
	RunCycle(ctx context.Context, req navigator.Request) (navigator.Cycle, error)
	Close() error
}

// ConfigStore is the persisted monitoring configuration.
type ConfigStore interface {
	WebsiteURL() string
	SelectedServices() domain.ServiceSelection
	SelectedLocation() domain.LocationSelection
	MonitoredDates() []string
	AddWatchedDate(date string) (bool, error)
	RemoveWatchedDate(date string) (bool, error)
}

type Options struct {
	HistorySize int
	// CheckOnStart runs a cycle right after bootstrap instead of waiting a
	// full interval.
	CheckOnStart bool
	Events       repo.EventStore
}

type Monitor struct {
	log      *zap.Logger
	runner   Runner
	store    ConfigStore
	detector *detector.Detector
	bus      *eventbus.Bus
	events   repo.EventStore
	onStart  bool

	ctx    context.Context // cycles run on this, not on the loop context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// cfgMu serialises date edits so the store and the working set move together.
	cfgMu sync.Mutex

	mu         sync.Mutex
	state      State
	running    bool
	gen        uint64
	loopCancel context.CancelFunc
	minutes    int
	seconds    int
	lastCheck  *time.Time
	dates      map[string]bool
	latest     map[string]domain.CheckResult
	closed     bool

	now func() time.Time
}

func New(logger *zap.Logger, runner Runner, store ConfigStore, opts Options) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		log:      logger,
		runner:   runner,
		store:    store,
		detector: detector.New(opts.HistorySize),
		bus:      eventbus.New(),
		events:   opts.Events,
		onStart:  opts.CheckOnStart,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateStopped,
		dates:    map[string]bool{},
		latest:   map[string]domain.CheckResult{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, d := range store.MonitoredDates() {
		m.dates[d] = true
	}
	return m
}

// Restore seeds the event history from the event store. Results and the
// detector baseline start empty; only a cycle of this process fills them.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.events == nil {
		return nil
	}
	recent, err := m.events.RecentEvents(ctx, m.detector.HistoryCap())
	if err != nil {
		return err
	}
	slices.Reverse(recent)
	m.detector.Seed(recent)
	m.log.Info("history_restored", zap.Int("events", len(recent)))
	return nil
}

// ValidateInterval checks a start request without touching engine state.
func ValidateInterval(minutes, seconds int) error {
	switch {
	case minutes < 0 || minutes > maxMinutes:
		return &domain.ConfigurationError{Field: "interval_minutes", Reason: "must be between 0 and 60"}
	case seconds < 0 || seconds > maxSeconds:
		return &domain.ConfigurationError{Field: "interval_seconds", Reason: "must be between 0 and 59"}
	}
	total := minutes*60 + seconds
	if total < 1 || total > MaxIntervalSeconds {
		return &domain.ConfigurationError{Field: "interval", Reason: "total must be between 1 and 3600 seconds"}
	}
	return nil
}

// Start arms the recurring check. It returns once the engine is
// Initializing; bootstrap and the timer run in the background.
func (m *Monitor) Start(minutes, seconds int) error {
	if err := ValidateInterval(minutes, seconds); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateStopped {
		m.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	m.state = StateInitializing
	m.minutes, m.seconds = minutes, seconds
	m.gen++
	gen := m.gen
	loopCtx, cancel := context.WithCancel(m.ctx)
	m.loopCancel = cancel
	interval := time.Duration(minutes*60+seconds) * time.Second
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info("monitor_started", zap.Duration("interval", interval))
	m.publishStatus()
	go func() {
		defer m.wg.Done()
		m.loop(loopCtx, gen, interval)
	}()
	return nil
}

// Stop disarms the timer right away. A cycle already in flight finishes and
// its results still reach the detector.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return domain.ErrNotActive
	}
	m.state = StateStopped
	m.gen++
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	inFlight := m.running
	m.mu.Unlock()

	m.log.Info("monitor_stopped", zap.Bool("cycle_in_flight", inFlight))
	m.publishStatus()
	return nil
}

func (m *Monitor) loop(ctx context.Context, gen uint64, interval time.Duration) {
	m.bootstrap(ctx)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	if m.state == StateInitializing {
		m.state = StateWaiting
		if m.running {
			m.state = StateChecking
		}
	}
	m.mu.Unlock()
	m.publishStatus()

	t := time.NewTicker(interval)
	defer t.Stop()

	if m.onStart {
		m.tick(gen)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick(gen)
		}
	}
}

// bootstrap opens the browser session if there is none. It holds the cycle
// slot while it touches the session and stands aside when a cycle already
// owns it, since that cycle launches the session itself. A failure is
// reported; the first cycle retries the launch lazily.
func (m *Monitor) bootstrap(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Info("bootstrap_skipped", zap.String("reason", "cycle in flight"))
		return
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if m.runner.Ready(ctx) {
		return
	}
	if err := m.runner.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("bootstrap_failed", zap.Error(err))
		m.publishError("bootstrap", "", err)
		return
	}
	m.log.Info("browser_session_ready")
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	if m.running {
		m.mu.Unlock()
		m.log.Info("tick_skipped", zap.String("reason", "cycle in flight"))
		return
	}
	m.acquireLocked()
	m.mu.Unlock()
	m.publishStatus()

	_, _ = m.execute("timer")
}

// CheckNow runs one cycle outside the timer. It fails with ErrBusy while
// another cycle or the bootstrap launch is running. If ctx ends first the cycle keeps going and its
// results are still recorded.
func (m *Monitor) CheckNow(ctx context.Context) ([]domain.CheckResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		return nil, domain.ErrBusy
	}
	m.acquireLocked()
	m.wg.Add(1)
	m.mu.Unlock()
	m.publishStatus()

	type outcome struct {
		results []domain.CheckResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer m.wg.Done()
		res, err := m.execute("manual")
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Monitor) acquireLocked() {
	m.running = true
	if m.state == StateWaiting {
		m.state = StateChecking
	}
}

func (m *Monitor) release() {
	m.mu.Lock()
	m.running = false
	at := m.now()
	m.lastCheck = &at
	if m.state == StateChecking {
		m.state = StateWaiting
	}
	m.mu.Unlock()
	m.publishStatus()
}

// execute runs one cycle; the caller must hold the cycle slot.
func (m *Monitor) execute(trigger string) ([]domain.CheckResult, error) {
	defer m.release()

	req := navigator.Request{
		URL:      m.store.WebsiteURL(),
		Dates:    m.Dates(),
		Services: m.store.SelectedServices(),
		Location: m.store.SelectedLocation(),
	}
	if len(req.Dates) == 0 {
		m.log.Info("cycle_skipped", zap.String("trigger", trigger), zap.String("reason", "no watched dates"))
		return nil, nil
	}
	if req.URL == "" {
		err := &domain.ConfigurationError{Field: "website_url", Reason: "not configured"}
		m.publishError("load", "", err)
		return nil, err
	}

	start := time.Now()
	m.log.Info("cycle_started", zap.String("trigger", trigger), zap.Int("dates", len(req.Dates)))
	cyc, err := m.runner.RunCycle(m.ctx, req)

	results := m.record(cyc.Results)
	for _, w := range cyc.Warnings {
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindWarning, Warning: w})
	}
	var dateErrs error
	for _, de := range cyc.DateErrors {
		dateErrs = multierr.Append(dateErrs, de.Err)
		step := domain.StepOf(de.Err)
		if step == "" {
			step = "probe"
		}
		m.publishError(step, de.Date, de.Err)
	}

	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.Int("results", len(results)),
		zap.Int("warnings", len(cyc.Warnings)),
		zap.Duration("took", time.Since(start)),
	}
	if dateErrs != nil {
		fields = append(fields, zap.NamedError("date_errors", dateErrs))
	}
	if err != nil {
		m.log.Warn("cycle_failed", append(fields, zap.String("kind", domain.Classify(err)), zap.Error(err))...)
		m.publishError(domain.StepOf(err), "", err)
		var fatal *domain.BrowserFatalError
		if errors.As(err, &fatal) {
			m.log.Warn("engine_uninitialized")
		}
		return results, err
	}
	m.log.Info("cycle_finished", fields...)
	return results, nil
}

// record stores results for dates still watched and feeds them to the detector.
func (m *Monitor) record(in []domain.CheckResult) []domain.CheckResult {
	m.mu.Lock()
	results := make([]domain.CheckResult, 0, len(in))
	for _, r := range in {
		if !m.dates[r.Date] {
			continue
		}
		m.latest[r.Date] = r
		results = append(results, r)
	}
	m.mu.Unlock()

	if len(results) == 0 {
		return results
	}
	evs := m.detector.Apply(results)

	// persistence is best effort; the in-memory history is authoritative
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range evs {
		ev := evs[i]
		if m.events != nil {
			if err := m.events.AppendEvent(ctx, ev); err != nil {
				m.log.Warn("event_persist_failed", zap.String("id", ev.ID), zap.Error(err))
			}
		}
		m.log.Info("appointment_event",
			zap.String("type", string(ev.Type)),
			zap.String("date", ev.Date),
			zap.String("message", ev.Message),
		)
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindAppointment, Appointment: &ev})
	}
	return results
}

// Status is a snapshot read; it never waits for a cycle.
func (m *Monitor) Status() domain.MonitoringStatus {
	m.mu.Lock()
	st := domain.MonitoringStatus{
		IsActive:            m.state != StateStopped,
		IsInitializing:      m.state == StateInitializing,
		IsCurrentlyChecking: m.state == StateChecking,
		IntervalMinutes:     m.minutes,
		IntervalSeconds:     m.seconds,
	}
	if m.lastCheck != nil {
		t := *m.lastCheck
		st.LastCheckTime = &t
	}
	m.mu.Unlock()
	st.TargetURL = m.store.WebsiteURL()
	return st
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Results returns the latest result per watched date, ordered by date.
func (m *Monitor) Results() []domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CheckResult, 0, len(m.latest))
	for _, d := range slices.Sorted(maps.Keys(m.latest)) {
		out = append(out, m.latest[d])
	}
	return out
}

// EventHistory returns recorded events, newest first.
func (m *Monitor) EventHistory() []domain.AppointmentEvent {
	return m.detector.History()
}

// Dates returns the watched dates in order.
func (m *Monitor) Dates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.dates))
}

// AddDate persists date and adds it to the working set. The set is only
// touched once the store accepted the change.
func (m *Monitor) AddDate(ctx context.Context, date string) (string, bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", false, err
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	added, err := m.store.AddWatchedDate(d)
	if err != nil {
		return d, false, err
	}
	m.mu.Lock()
	m.dates[d] = true
	m.mu.Unlock()
	m.log.Info("date_added", zap.String("date", d), zap.Bool("new", added))
	return d, added, nil
}

// RemoveDate drops date from the store and then from the working set,
// together with its last result and detector baseline.
func (m *Monitor) RemoveDate(ctx context.Context, date string) (string, bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", false, err
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	removed, err := m.store.RemoveWatchedDate(d)
	if err != nil {
		return d, false, err
	}
	m.forget(d)
	m.log.Info("date_removed", zap.String("date", d), zap.Bool("existed", removed))
	return d, removed, nil
}

// SyncDates replaces the working set with what the store holds now.
func (m *Monitor) SyncDates(ctx context.Context) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	next := map[string]bool{}
	for _, d := range m.store.MonitoredDates() {
		next[d] = true
	}
	m.mu.Lock()
	var gone []string
	for d := range m.dates {
		if !next[d] {
			gone = append(gone, d)
		}
	}
	m.dates = next
	m.mu.Unlock()
	for _, d := range gone {
		m.forget(d)
	}
	m.log.Info("dates_synced", zap.Int("dates", len(next)), zap.Int("dropped", len(gone)))
}

func (m *Monitor) forget(d string) {
	m.mu.Lock()
	delete(m.dates, d)
	delete(m.latest, d)
	m.mu.Unlock()
	m.detector.Forget(d)
}

// Subscribe registers a consumer of engine events.
func (m *Monitor) Subscribe() (<-chan eventbus.Event, func()) {
	return m.bus.Subscribe()
}

// Close stops the engine, waits for in-flight work until ctx ends, then
// releases the browser and drains subscribers.
func (m *Monitor) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	_ = m.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	m.cancel()
	err = multierr.Append(err, m.runner.Close())
	m.bus.Close()
	return err
}

func (m *Monitor) publishStatus() {
	st := m.Status()
	m.bus.Publish(eventbus.Event{Kind: eventbus.KindStatus, Status: &st})
}

func (m *Monitor) publishError(step, date string, err error) {
	m.bus.Publish(eventbus.Event{
		Kind: eventbus.KindError,
		Error: &eventbus.ErrorInfo{
			Kind:    domain.Classify(err),
			Step:    step,
			Date:    date,
			Message: err.Error(),
		},
	})
}
