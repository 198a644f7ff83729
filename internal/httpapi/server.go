package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/domain"
	apimw "github.com/hamed0406/slotwatch/internal/httpapi/middleware"
	"github.com/hamed0406/slotwatch/internal/notify"
	"github.com/hamed0406/slotwatch/internal/settings"
)

// Engine is the monitoring surface the API drives.
type Engine interface {
	Start(minutes, seconds int) error
	Stop() error
	CheckNow(ctx context.Context) ([]domain.CheckResult, error)
	Status() domain.MonitoringStatus
	Results() []domain.CheckResult
	EventHistory() []domain.AppointmentEvent
	Dates() []string
	AddDate(ctx context.Context, date string) (string, bool, error)
	RemoveDate(ctx context.Context, date string) (string, bool, error)
}

// Notifier sends a test message through every configured channel.
type Notifier interface {
	Channels() []string
	Deliver(ctx context.Context, title, text string) []notify.Delivery
}

// SettingsStore is the editable site configuration. Changes apply from the
// next cycle on.
type SettingsStore interface {
	Snapshot() settings.Settings
	Update(p settings.Patch) (settings.Settings, error)
}

type Server struct {
	Logger   *zap.Logger
	Engine   Engine
	Notify   Notifier
	Settings SettingsStore
}

func NewServer(l *zap.Logger, e Engine, n Notifier, st SettingsStore) *Server {
	return &Server{Logger: l, Engine: e, Notify: n, Settings: st}
}

// Router wires routes: read endpoints need any key, control endpoints an
// admin key. Each group has its own per-IP rate limit.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst), apimw.RequireAny(keys))
			r.Get("/monitor/status", s.handleStatus)
			r.Get("/monitor/results", s.handleResults)
			r.Get("/monitor/events", s.handleEvents)
			r.Get("/dates", s.handleListDates)
			r.Get("/settings", s.handleGetSettings)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst), apimw.RequireAdmin(keys))
			r.Post("/monitor/start", s.handleStart)
			r.Post("/monitor/stop", s.handleStop)
			r.Post("/monitor/check", s.handleCheck)
			r.Post("/dates", s.handleAddDate)
			r.Delete("/dates", s.handleRemoveDate)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/notify/test", s.handleNotifyTest)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyActive), errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotActive):
		return http.StatusPreconditionFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= 500 {
		s.Logger.Error("api_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Status())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Results())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.EventHistory())
}

type startPayload struct {
	IntervalMinutes int `json:"interval_minutes"`
	IntervalSeconds int `json:"interval_seconds"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var p startPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	if err := s.Engine.Start(p.IntervalMinutes, p.IntervalSeconds); err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("monitor_started_via_api",
		zap.Int("minutes", p.IntervalMinutes),
		zap.Int("seconds", p.IntervalSeconds),
	)
	writeJSON(w, http.StatusAccepted, s.Engine.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Stop(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Status())
}

// checkFailure carries what a failed cycle still managed to read.
type checkFailure struct {
	Error   string               `json:"error"`
	Results []domain.CheckResult `json:"results"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.CheckNow(r.Context())
	if res == nil {
		res = []domain.CheckResult{}
	}
	if err != nil {
		if len(res) == 0 {
			s.fail(w, r, err)
			return
		}
		code := errorStatus(err)
		if code >= 500 {
			s.Logger.Error("api_error", zap.String("path", r.URL.Path), zap.Int("partial_results", len(res)), zap.Error(err))
		}
		writeJSON(w, code, checkFailure{Error: err.Error(), Results: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Dates())
}

type datePayload struct {
	Date string `json:"date"`
}

func (s *Server) handleAddDate(w http.ResponseWriter, r *http.Request) {
	var p datePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	d, added, err := s.Engine.AddDate(r.Context(), p.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if !added {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"date": d, "added": added})
}

func (s *Server) handleRemoveDate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date query parameter required"})
		return
	}
	d, removed, err := s.Engine.RemoveDate(r.Context(), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]any{"date": d, "removed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": d, "removed": true})
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if s.Notify == nil || len(s.Notify.Channels()) == 0 {
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "no notification channels configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	out := s.Notify.Deliver(ctx, "Test notification", "Notifications are working.")
	code := http.StatusOK
	for _, d := range out {
		if !d.Success {
			code = http.StatusBadGateway
			break
		}
	}
	writeJSON(w, code, out)
}

type settingsView struct {
	WebsiteURL       string                     `json:"website_url"`
	SelectedServices domain.ServiceSelection    `json:"selected_services"`
	SelectedLocation domain.LocationSelection   `json:"selected_location"`
	Locations        []domain.LocationSelection `json:"locations,omitempty"`
}

func viewOf(st settings.Settings) settingsView {
	sel := domain.ServiceSelection(st.SelectedServices)
	if sel == nil {
		sel = domain.ServiceSelection{}
	}
	return settingsView{
		WebsiteURL:       st.WebsiteURL,
		SelectedServices: sel,
		SelectedLocation: st.SelectedLocation,
		Locations:        st.Locations,
	}
}

// settingsPayload fields left out of the body are not changed.
type settingsPayload struct {
	WebsiteURL       *string                   `json:"website_url"`
	SelectedServices domain.ServiceSelection   `json:"selected_services"`
	SelectedLocation *domain.LocationSelection `json:"selected_location"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.Settings.Snapshot()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var p settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	if p.WebsiteURL == nil && p.SelectedServices == nil && p.SelectedLocation == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no settings to change"})
		return
	}
	st, err := s.Settings.Update(settings.Patch{
		WebsiteURL:       p.WebsiteURL,
		SelectedServices: p.SelectedServices,
		SelectedLocation: p.SelectedLocation,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("settings_updated",
		zap.String("website_url", st.WebsiteURL),
		zap.String("location", st.SelectedLocation.Value),
		zap.Strings("services", domain.ServiceSelection(st.SelectedServices).Enabled()),
	)
	writeJSON(w, http.StatusOK, viewOf(st))
}
