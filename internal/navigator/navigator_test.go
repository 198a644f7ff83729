package navigator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/browser/browsertest"
	"github.com/hamed0406/slotwatch/internal/domain"
)

// ---- fakes ----

type fakeLauncher struct {
	mu    sync.Mutex
	pages []*browsertest.Page
	n     int
	err   error
}

func (f *fakeLauncher) Launch(ctx context.Context) (browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.n >= len(f.pages) {
		return nil, errors.New("no more pages")
	}
	p := f.pages[f.n]
	f.n++
	return p, nil
}

func (f *fakeLauncher) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// newSite builds a page that behaves like the appointment site: a service
// form, a location select and a submit button that reveals the calendar.
func newSite(year int, month time.Month) (*browsertest.Page, *browsertest.Calendar) {
	page := browsertest.New()
	cal := browsertest.NewCalendar(year, month)
	page.Calendar = cal

	page.Show("#concerns_accordion", "select#location", "#forward_service")
	for _, key := range []string{"passport", "id_card"} {
		sel := "#service-" + key + " .plus"
		valSel := "#service-" + key + " input"
		page.Show(sel)
		page.SetValue(valSel, "0")
		page.OnClick(sel, func(p *browsertest.Page) { p.SetValue(valSel, "1") })
	}
	page.SetOptions("select#location",
		browser.Option{Value: "", Text: "Bitte wählen"},
		browser.Option{Value: "mitte", Text: "Bürgeramt Mitte"},
		browser.Option{Value: "nord", Text: "Bürgeramt Nord"},
	)
	page.OnClick("#forward_service", func(p *browsertest.Page) { p.Show(cal.GridSel) })
	return page, cal
}

func newNav(l browser.Launcher) *Navigator {
	return New(zap.NewNop(), l, DefaultLayout(), time.Second, 0)
}

func request(dates ...string) Request {
	return Request{
		URL:      "https://termine.example/",
		Dates:    dates,
		Services: domain.ServiceSelection{"passport": true, "id_card": false},
		Location: domain.LocationSelection{Value: "mitte", Name: "Bürgeramt Mitte"},
	}
}

// ---- tests ----

func TestRunCycle_FullFlow(t *testing.T) {
	page, cal := newSite(2025, time.July)
	cal.Cells["2025/08/15"] = browsertest.Cell{Available: true, Time: "10:00"}
	cal.Cells["2025/09/01"] = browsertest.Cell{Available: true, Disabled: true}
	l := &fakeLauncher{pages: []*browsertest.Page{page}}
	nav := newNav(l)

	cyc, err := nav.RunCycle(context.Background(), request("2025/09/01", "2025/08/15"))
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(cyc.Results) != 2 {
		t.Fatalf("want 2 results, got %+v", cyc.Results)
	}
	if cyc.Results[0].Date != "2025/08/15" || !cyc.Results[0].Available {
		t.Fatalf("unexpected first result: %+v", cyc.Results[0])
	}
	if cyc.Results[1].Date != "2025/09/01" || cyc.Results[1].Available {
		t.Fatalf("unexpected second result: %+v", cyc.Results[1])
	}
	if len(cyc.Warnings) != 0 {
		t.Fatalf("no warnings expected, got %v", cyc.Warnings)
	}
	if got := page.Selected("select#location"); got != "mitte" {
		t.Fatalf("want configured location selected, got %q", got)
	}
	if nav.State() != StateIdle {
		t.Fatalf("want idle after success, got %s", nav.State())
	}
	if nav := page.Navigations(); len(nav) != 1 || nav[0] != "https://termine.example/" {
		t.Fatalf("unexpected navigations: %v", nav)
	}
}

func TestRunCycle_ServiceMismatchIsWarning(t *testing.T) {
	page, cal := newSite(2025, time.August)
	cal.Cells["2025/08/15"] = browsertest.Cell{Available: true}
	page.OnClick("#service-passport .plus", func(p *browsertest.Page) {}) // value stays "0"
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})

	cyc, err := nav.RunCycle(context.Background(), request("2025/08/15"))
	if err != nil {
		t.Fatalf("service mismatch must not abort: %v", err)
	}
	if len(cyc.Warnings) != 1 || !strings.Contains(cyc.Warnings[0], "passport") {
		t.Fatalf("want one passport warning, got %v", cyc.Warnings)
	}
	if len(cyc.Results) != 1 {
		t.Fatalf("want result despite warning, got %+v", cyc.Results)
	}
}

func TestRunCycle_LocationFallsBackToFirstOption(t *testing.T) {
	page, _ := newSite(2025, time.August)
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})
	req := request("2025/08/15")
	req.Location = domain.LocationSelection{Value: "sued", Name: "Bürgeramt Süd"}

	cyc, err := nav.RunCycle(context.Background(), req)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := page.Selected("select#location"); got != "mitte" {
		t.Fatalf("want first real option, got %q", got)
	}
	if len(cyc.Warnings) != 1 || !strings.Contains(cyc.Warnings[0], "sued") {
		t.Fatalf("want degradation reported, got %v", cyc.Warnings)
	}
}

func TestRunCycle_MissingSubmitIsStructural(t *testing.T) {
	page, _ := newSite(2025, time.August)
	page.Hide("#forward_service")
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})

	cyc, err := nav.RunCycle(context.Background(), request("2025/08/15"))
	var se *domain.StructuralError
	if !errors.As(err, &se) || se.Step != "submit" {
		t.Fatalf("want structural submit error, got %v", err)
	}
	if len(se.Tried) != 4 {
		t.Fatalf("want primary and all fallbacks tried, got %v", se.Tried)
	}
	if len(cyc.Results) != 0 || nav.State() != StateError {
		t.Fatalf("unexpected outcome: %+v state=%s", cyc, nav.State())
	}
}

func TestRunCycle_NavigationLimitSkipsOnlyThatDate(t *testing.T) {
	page, cal := newSite(2025, time.August)
	cal.Cells["2025/08/15"] = browsertest.Cell{Available: true}
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})

	cyc, err := nav.RunCycle(context.Background(), request("2025/08/15", "2030/01/10"))
	if err != nil {
		t.Fatalf("limit must not abort cycle: %v", err)
	}
	if len(cyc.Results) != 1 || cyc.Results[0].Date != "2025/08/15" {
		t.Fatalf("want only the reachable date, got %+v", cyc.Results)
	}
	if len(cyc.DateErrors) != 1 || cyc.DateErrors[0].Date != "2030/01/10" {
		t.Fatalf("want one date error, got %+v", cyc.DateErrors)
	}
	var nl *domain.NavigationLimitExceeded
	if !errors.As(cyc.DateErrors[0].Err, &nl) {
		t.Fatalf("want NavigationLimitExceeded, got %v", cyc.DateErrors[0].Err)
	}
}

func TestRunCycle_TransientMidCycleKeepsEarlierResults(t *testing.T) {
	page, cal := newSite(2025, time.August)
	cal.Cells["2025/08/15"] = browsertest.Cell{Available: true, Time: "09:30"}
	cal.Cells["2025/09/10"] = browsertest.Cell{Available: true}
	cal.Cells["2025/10/01"] = browsertest.Cell{Available: true}
	page.ClickErr = func(sel string) error {
		if sel == cal.NextSel {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		return nil
	}
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})

	cyc, err := nav.RunCycle(context.Background(), request("2025/10/01", "2025/09/10", "2025/08/15"))
	var te *domain.TransientPageError
	if !errors.As(err, &te) {
		t.Fatalf("want transient error, got %v", err)
	}
	if len(cyc.Results) != 1 || cyc.Results[0].Date != "2025/08/15" || !cyc.Results[0].Available {
		t.Fatalf("want the first date's result kept, got %+v", cyc.Results)
	}
	if len(cyc.DateErrors) != 0 {
		t.Fatalf("transient failure must abort, not skip: %+v", cyc.DateErrors)
	}
	if nav.State() != StateError {
		t.Fatalf("want error state, got %s", nav.State())
	}
}

func TestRunCycle_ReusesSessionAndRelaunchesAfterCrash(t *testing.T) {
	first, cal := newSite(2025, time.August)
	cal.Cells["2025/08/15"] = browsertest.Cell{Available: true}
	second, cal2 := newSite(2025, time.August)
	cal2.Cells["2025/08/15"] = browsertest.Cell{Available: true}
	l := &fakeLauncher{pages: []*browsertest.Page{first, second}}
	nav := newNav(l)
	ctx := context.Background()

	if _, err := nav.RunCycle(ctx, request("2025/08/15")); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	first.Hide(cal.GridSel)
	if _, err := nav.RunCycle(ctx, request("2025/08/15")); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if l.launches() != 1 {
		t.Fatalf("session should be reused, launches=%d", l.launches())
	}

	first.Kill()
	if _, err := nav.RunCycle(ctx, request("2025/08/15")); err != nil {
		t.Fatalf("cycle after crash should relaunch: %v", err)
	}
	if l.launches() != 2 || !first.Closed() {
		t.Fatalf("want relaunch and old session closed, launches=%d", l.launches())
	}
}

func TestRunCycle_LaunchFailureIsFatal(t *testing.T) {
	nav := newNav(&fakeLauncher{err: errors.New("chrome not found")})
	_, err := nav.RunCycle(context.Background(), request("2025/08/15"))
	var fatal *domain.BrowserFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("want BrowserFatalError, got %v", err)
	}
}

func TestRunCycle_NavigateErrorIsTransient(t *testing.T) {
	page, _ := newSite(2025, time.August)
	page.NavigateErr = errors.New("net::ERR_TIMED_OUT")
	nav := newNav(&fakeLauncher{pages: []*browsertest.Page{page}})

	_, err := nav.RunCycle(context.Background(), request("2025/08/15"))
	var te *domain.TransientPageError
	if !errors.As(err, &te) || te.Step != "load" {
		t.Fatalf("want transient load error, got %v", err)
	}
}

func TestLayout_ServiceDerivedAndOverride(t *testing.T) {
	l := DefaultLayout()
	c := l.Service("passport")
	if c.Activate.Primary != "#service-passport .plus" || len(c.Activate.Fallbacks) != 2 {
		t.Fatalf("unexpected derived control: %+v", c)
	}
	l.Services = map[string]ServiceControl{"x": {Activate: browser.Step{Name: "service:x", Primary: "#x"}, ValueSel: "#xv"}}
	if got := l.Service("x"); got.Expect != "1" || got.Activate.Primary != "#x" {
		t.Fatalf("override not honoured: %+v", got)
	}
}
