package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/domain"
	apimw "github.com/hamed0406/slotwatch/internal/httpapi/middleware"
	"github.com/hamed0406/slotwatch/internal/notify"
	"github.com/hamed0406/slotwatch/internal/settings"
)

// ---- test helpers ----

type fakeEngine struct {
	mu       sync.Mutex
	active   bool
	minutes  int
	seconds  int
	dates    map[string]bool
	results  []domain.CheckResult
	events   []domain.AppointmentEvent
	checkErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{dates: map[string]bool{"2025/08/15": true}}
}

func (f *fakeEngine) Start(minutes, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if minutes*60+seconds <= 0 {
		return &domain.ConfigurationError{Field: "interval", Reason: "must be positive"}
	}
	if f.active {
		return domain.ErrAlreadyActive
	}
	f.active, f.minutes, f.seconds = true, minutes, seconds
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return domain.ErrNotActive
	}
	f.active = false
	return nil
}

func (f *fakeEngine) CheckNow(context.Context) ([]domain.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results, f.checkErr
}

func (f *fakeEngine) Status() domain.MonitoringStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.MonitoringStatus{IsActive: f.active, IntervalMinutes: f.minutes, IntervalSeconds: f.seconds}
}

func (f *fakeEngine) Results() []domain.CheckResult           { return f.results }
func (f *fakeEngine) EventHistory() []domain.AppointmentEvent { return f.events }

func (f *fakeEngine) Dates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for d := range f.dates {
		out = append(out, d)
	}
	return out
}

func (f *fakeEngine) AddDate(_ context.Context, date string) (string, bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dates[d] {
		return d, false, nil
	}
	f.dates[d] = true
	return d, true, nil
}

func (f *fakeEngine) RemoveDate(_ context.Context, date string) (string, bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := f.dates[d]
	delete(f.dates, d)
	return d, ok, nil
}

type fakeNotifier struct {
	out []notify.Delivery
}

func (f *fakeNotifier) Channels() []string {
	var names []string
	for _, d := range f.out {
		names = append(names, d.Channel)
	}
	return names
}

func (f *fakeNotifier) Deliver(context.Context, string, string) []notify.Delivery { return f.out }

func testSettings() *settings.Store {
	return settings.NewMemory(settings.Settings{
		WebsiteURL:       "https://termine.example/",
		SelectedServices: map[string]bool{"passport": true},
		SelectedLocation: domain.LocationSelection{Value: "mitte", Name: "Mitte"},
		Locations: []domain.LocationSelection{
			{Value: "mitte", Name: "Mitte"},
			{Value: "nord", Name: "Nord"},
		},
	})
}

func setupServer(t *testing.T, eng Engine, n Notifier) *httptest.Server {
	t.Helper()
	return serve(t, NewServer(zap.NewNop(), eng, n, testSettings()))
}

func serve(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}
	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, key, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req, _ := http.NewRequest(method, url, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

// ---- tests ----

func TestStartStop_Lifecycle(t *testing.T) {
	ts := setupServer(t, newFakeEngine(), nil)

	if code, _ := do(t, "POST", ts.URL+"/api/monitor/start", "adm_test", `{"interval_minutes":0,"interval_seconds":0}`); code != http.StatusBadRequest {
		t.Fatalf("zero interval: want 400, got %d", code)
	}
	code, body := do(t, "POST", ts.URL+"/api/monitor/start", "adm_test", `{"interval_minutes":1,"interval_seconds":30}`)
	if code != http.StatusAccepted {
		t.Fatalf("start: want 202, got %d", code)
	}
	var st domain.MonitoringStatus
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.IsActive || st.IntervalMinutes != 1 || st.IntervalSeconds != 30 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if code, _ := do(t, "POST", ts.URL+"/api/monitor/start", "adm_test", `{"interval_minutes":1}`); code != http.StatusConflict {
		t.Fatalf("second start: want 409, got %d", code)
	}
	if code, _ := do(t, "POST", ts.URL+"/api/monitor/stop", "adm_test", ""); code != http.StatusOK {
		t.Fatalf("stop: want 200, got %d", code)
	}
	if code, _ := do(t, "POST", ts.URL+"/api/monitor/stop", "adm_test", ""); code != http.StatusPreconditionFailed {
		t.Fatalf("second stop: want 412, got %d", code)
	}
}

func TestControlRequiresAdmin(t *testing.T) {
	ts := setupServer(t, newFakeEngine(), nil)
	if code, _ := do(t, "POST", ts.URL+"/api/monitor/start", "pub_test", `{"interval_minutes":1}`); code != http.StatusForbidden {
		t.Fatalf("public key on start: want 403, got %d", code)
	}
	if code, _ := do(t, "GET", ts.URL+"/api/monitor/status", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("status without key: want 401, got %d", code)
	}
	if code, _ := do(t, "GET", ts.URL+"/api/monitor/status", "pub_test", ""); code != http.StatusOK {
		t.Fatalf("status with public key: want 200, got %d", code)
	}
	if code, _ := do(t, "GET", ts.URL+"/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("healthz: want 200, got %d", code)
	}
}

func TestCheck_ResultsAndBusy(t *testing.T) {
	eng := newFakeEngine()
	at := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	eng.results = []domain.CheckResult{{Date: "2025/08/15", Available: true, CheckedAt: at}}
	ts := setupServer(t, eng, nil)

	code, body := do(t, "POST", ts.URL+"/api/monitor/check", "adm_test", "")
	if code != http.StatusOK {
		t.Fatalf("check: want 200, got %d", code)
	}
	var got []domain.CheckResult
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(eng.results, got); diff != "" {
		t.Fatalf("results (-want +got):\n%s", diff)
	}

	// a cycle that failed midway still reports what it read
	eng.mu.Lock()
	eng.checkErr = &domain.TransientPageError{Step: "calendar:next", Err: errors.New("net::ERR_CONNECTION_RESET")}
	eng.mu.Unlock()
	code, body = do(t, "POST", ts.URL+"/api/monitor/check", "adm_test", "")
	if code != http.StatusInternalServerError {
		t.Fatalf("partial check: want 500, got %d", code)
	}
	var partial struct {
		Error   string               `json:"error"`
		Results []domain.CheckResult `json:"results"`
	}
	if err := json.Unmarshal(body, &partial); err != nil {
		t.Fatalf("decode partial: %v", err)
	}
	if partial.Error == "" {
		t.Fatal("partial failure lost its error")
	}
	if diff := cmp.Diff(eng.results, partial.Results); diff != "" {
		t.Fatalf("partial results (-want +got):\n%s", diff)
	}

	eng.mu.Lock()
	eng.results = nil
	eng.checkErr = domain.ErrBusy
	eng.mu.Unlock()
	code, body = do(t, "POST", ts.URL+"/api/monitor/check", "adm_test", "")
	if code != http.StatusConflict {
		t.Fatalf("busy check: want 409, got %d", code)
	}
	if bytes.Contains(body, []byte(`"results"`)) {
		t.Fatalf("busy reply should carry no results: %s", body)
	}

	eng.mu.Lock()
	eng.checkErr = errors.New("boom")
	eng.mu.Unlock()
	if code, _ := do(t, "POST", ts.URL+"/api/monitor/check", "adm_test", ""); code != http.StatusInternalServerError {
		t.Fatalf("failed check: want 500, got %d", code)
	}
}

func TestDates_AddListRemove(t *testing.T) {
	ts := setupServer(t, newFakeEngine(), nil)

	code, body := do(t, "POST", ts.URL+"/api/dates", "adm_test", `{"date":"01.09.2025"}`)
	if code != http.StatusCreated {
		t.Fatalf("add: want 201, got %d", code)
	}
	var added struct {
		Date  string `json:"date"`
		Added bool   `json:"added"`
	}
	if err := json.Unmarshal(body, &added); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if added.Date != "2025/09/01" || !added.Added {
		t.Fatalf("unexpected add response: %+v", added)
	}
	if code, _ := do(t, "POST", ts.URL+"/api/dates", "adm_test", `{"date":"2025/09/01"}`); code != http.StatusOK {
		t.Fatalf("duplicate add: want 200, got %d", code)
	}
	if code, _ := do(t, "POST", ts.URL+"/api/dates", "adm_test", `{"date":"2025-09-01"}`); code != http.StatusBadRequest {
		t.Fatalf("malformed add: want 400, got %d", code)
	}

	code, body = do(t, "GET", ts.URL+"/api/dates", "pub_test", "")
	if code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", code)
	}
	var dates []string
	if err := json.Unmarshal(body, &dates); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("want 2 dates, got %v", dates)
	}

	if code, _ := do(t, "DELETE", ts.URL+"/api/dates?date=2025/09/01", "adm_test", ""); code != http.StatusOK {
		t.Fatalf("remove: want 200, got %d", code)
	}
	if code, _ := do(t, "DELETE", ts.URL+"/api/dates?date=2025/09/01", "adm_test", ""); code != http.StatusNotFound {
		t.Fatalf("second remove: want 404, got %d", code)
	}
	if code, _ := do(t, "DELETE", ts.URL+"/api/dates", "adm_test", ""); code != http.StatusBadRequest {
		t.Fatalf("remove without date: want 400, got %d", code)
	}
}

func TestNotifyTest(t *testing.T) {
	ts := setupServer(t, newFakeEngine(), &fakeNotifier{})
	if code, _ := do(t, "POST", ts.URL+"/api/notify/test", "adm_test", ""); code != http.StatusPreconditionFailed {
		t.Fatalf("no channels: want 412, got %d", code)
	}

	n := &fakeNotifier{out: []notify.Delivery{
		{Channel: "slack", Success: true},
		{Channel: "email", Success: false, Error: "dial tcp: refused"},
	}}
	ts = setupServer(t, newFakeEngine(), n)
	code, body := do(t, "POST", ts.URL+"/api/notify/test", "adm_test", "")
	if code != http.StatusBadGateway {
		t.Fatalf("partial failure: want 502, got %d", code)
	}
	var got []notify.Delivery
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(n.out, got); diff != "" {
		t.Fatalf("deliveries (-want +got):\n%s", diff)
	}
}

func TestSettings_GetAndUpdate(t *testing.T) {
	st := testSettings()
	ts := serve(t, NewServer(zap.NewNop(), newFakeEngine(), nil, st))

	code, body := do(t, "GET", ts.URL+"/api/settings", "pub_test", "")
	if code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", code)
	}
	var got settingsView
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WebsiteURL != "https://termine.example/" || got.SelectedLocation.Value != "mitte" || len(got.Locations) != 2 {
		t.Fatalf("unexpected settings: %+v", got)
	}

	if code, _ := do(t, "PUT", ts.URL+"/api/settings", "pub_test", `{"selected_location":{"value":"nord"}}`); code != http.StatusForbidden {
		t.Fatalf("public key on update: want 403, got %d", code)
	}

	code, body = do(t, "PUT", ts.URL+"/api/settings", "adm_test",
		`{"selected_location":{"value":"nord"},"selected_services":{"passport":false,"id_card":true}}`)
	if code != http.StatusOK {
		t.Fatalf("update: want 200, got %d (%s)", code, body)
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SelectedLocation != (domain.LocationSelection{Value: "nord", Name: "Nord"}) {
		t.Fatalf("location: %+v", got.SelectedLocation)
	}
	if diff := cmp.Diff([]string{"id_card"}, st.SelectedServices().Enabled()); diff != "" {
		t.Fatalf("services not stored (-want +got):\n%s", diff)
	}
	if st.WebsiteURL() != "https://termine.example/" {
		t.Fatalf("omitted field changed: %q", st.WebsiteURL())
	}
}

func TestSettings_RejectsInvalid(t *testing.T) {
	st := testSettings()
	ts := serve(t, NewServer(zap.NewNop(), newFakeEngine(), nil, st))

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty location", `{"selected_location":{"value":""}}`, http.StatusBadRequest},
		{"unknown location", `{"selected_location":{"value":"sued"}}`, http.StatusBadRequest},
		{"bad url", `{"website_url":"termine.example"}`, http.StatusBadRequest},
		{"nothing to change", `{}`, http.StatusBadRequest},
		{"not json", `location=nord`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := do(t, "PUT", ts.URL+"/api/settings", "adm_test", tc.body); code != tc.want {
				t.Fatalf("want %d, got %d (%s)", tc.want, code, body)
			}
		})
	}
	if loc := st.SelectedLocation(); loc.Value != "mitte" {
		t.Fatalf("rejected updates changed the location: %+v", loc)
	}
}
