package domain

import (
	"slices"
	"time"
)

// CheckResult is the outcome of probing one watched date in one cycle.
type CheckResult struct {
	Date      string    `json:"date"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Metadata  *SlotInfo `json:"metadata,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// SlotInfo is best-effort detail read from an available calendar cell.
type SlotInfo struct {
	Time string `json:"time"`
	Type string `json:"type"`
}

type MonitoringStatus struct {
	IsActive            bool       `json:"is_active"`
	IsInitializing      bool       `json:"is_initializing"`
	IsCurrentlyChecking bool       `json:"is_currently_checking"`
	LastCheckTime       *time.Time `json:"last_check_time"`
	IntervalMinutes     int        `json:"interval_minutes"`
	IntervalSeconds     int        `json:"interval_seconds"`
	TargetURL           string     `json:"target_url"`
}

type EventType string

const (
	EventAvailable    EventType = "available"
	EventUnavailable  EventType = "unavailable"
	EventNewAvailable EventType = "new_available"
)

// AppointmentEvent records a change in availability for one date.
type AppointmentEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Date      string    `json:"date"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceSelection maps a service key to whether it should be requested.
type ServiceSelection map[string]bool

// Enabled returns the keys switched on, in a stable order.
func (s ServiceSelection) Enabled() []string {
	out := make([]string, 0, len(s))
	for k, on := range s {
		if on {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

type LocationSelection struct {
	Value string `json:"value" yaml:"value"`
	Name  string `json:"name" yaml:"name"`
}
