// Package settings persists the monitoring configuration edited at runtime.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/hamed0406/slotwatch/internal/config"
	"github.com/hamed0406/slotwatch/internal/domain"
)

const (
	DefaultStepTimeout = 30 * time.Second
	DefaultSettleDelay = time.Second
)

// Settings is the on-disk document.
type Settings struct {
	WebsiteURL       string                   `yaml:"website_url"`
	UserAgent        string                   `yaml:"user_agent,omitempty"`
	SelectedServices map[string]bool          `yaml:"selected_services"`
	SelectedLocation domain.LocationSelection `yaml:"selected_location"`
	// Locations, when listed, are the only offices selected_location may name.
	Locations      []domain.LocationSelection `yaml:"locations,omitempty"`
	MonitoredDates []string                   `yaml:"monitored_dates"`
	StepTimeout      string                   `yaml:"step_timeout,omitempty"`
	SettleDelay      string                   `yaml:"settle_delay,omitempty"`
}

func (s Settings) clone() Settings {
	out := s
	out.SelectedServices = make(map[string]bool, len(s.SelectedServices))
	for k, v := range s.SelectedServices {
		out.SelectedServices[k] = v
	}
	out.Locations = slices.Clone(s.Locations)
	out.MonitoredDates = slices.Clone(s.MonitoredDates)
	return out
}

// Store holds the settings in memory and, when it has a path, writes every
// change through to disk before making it visible.
type Store struct {
	path string

	mu       sync.RWMutex
	cur      Settings
	lastHash uint64
}

// Open loads path, creating it from def when it does not exist yet.
func Open(path string, def Settings) (*Store, error) {
	s := &Store{path: path}
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.replace(def); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}
	doc, err := decode(b)
	if err != nil {
		return nil, err
	}
	s.cur = doc
	s.lastHash = hashBytes(b)
	return s, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory(def Settings) *Store {
	s := &Store{}
	doc, _ := normalize(def)
	s.cur = doc
	return s
}

func decode(b []byte) (Settings, error) {
	var doc Settings
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return normalize(doc)
}

// normalize canonicalises and de-duplicates dates and validates durations.
func normalize(doc Settings) (Settings, error) {
	doc = doc.clone()
	seen := map[string]bool{}
	dates := doc.MonitoredDates[:0]
	for _, raw := range doc.MonitoredDates {
		d, err := domain.ParseDate(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("monitored_dates: %w", err)
		}
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	slices.Sort(dates)
	doc.MonitoredDates = dates
	if _, err := config.ParseDurationField("step_timeout", doc.StepTimeout); err != nil {
		return Settings{}, err
	}
	if _, err := config.ParseDurationField("settle_delay", doc.SettleDelay); err != nil {
		return Settings{}, err
	}
	return doc, nil
}

// replace persists next and then makes it current. On a write error the
// current settings stay untouched.
func (s *Store) replace(next Settings) error {
	next, err := normalize(next)
	if err != nil {
		return err
	}
	if s.path != "" {
		b, err := yaml.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := writeAtomic(s.path, b); err != nil {
			return err
		}
		s.lastHash = hashBytes(b)
	}
	s.cur = next
	return nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

func (s *Store) WebsiteURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.WebsiteURL
}

func (s *Store) UserAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.UserAgent
}

func (s *Store) SelectedServices() domain.ServiceSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.ServiceSelection, len(s.cur.SelectedServices))
	for k, v := range s.cur.SelectedServices {
		out[k] = v
	}
	return out
}

func (s *Store) SelectedLocation() domain.LocationSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.SelectedLocation
}

func (s *Store) MonitoredDates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cur.MonitoredDates)
}

func (s *Store) StepTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, _ := config.ParseDurationOrDefault("step_timeout", s.cur.StepTimeout, DefaultStepTimeout)
	return d
}

func (s *Store) SettleDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := config.ParseDurationField("settle_delay", s.cur.SettleDelay)
	if err != nil || s.cur.SettleDelay == "" {
		return DefaultSettleDelay
	}
	return d
}

// AddWatchedDate stores date; it reports false when it was already present.
func (s *Store) AddWatchedDate(date string) (bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.cur.MonitoredDates, d) {
		return false, nil
	}
	next := s.cur.clone()
	next.MonitoredDates = append(next.MonitoredDates, d)
	if err := s.replace(next); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveWatchedDate drops date; it reports false when it was not present.
func (s *Store) RemoveWatchedDate(date string) (bool, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.cur.MonitoredDates, d)
	if i < 0 {
		return false, nil
	}
	next := s.cur.clone()
	next.MonitoredDates = slices.Delete(next.MonitoredDates, i, i+1)
	if err := s.replace(next); err != nil {
		return false, err
	}
	return true, nil
}

// Patch names the fields Update changes; nil fields are left alone.
type Patch struct {
	WebsiteURL       *string
	SelectedServices domain.ServiceSelection
	SelectedLocation *domain.LocationSelection
}

// Update validates every field of p and then persists them together, so a
// rejected patch changes nothing.
func (s *Store) Update(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.clone()
	if p.WebsiteURL != nil {
		u, err := checkWebsiteURL(*p.WebsiteURL)
		if err != nil {
			return Settings{}, err
		}
		next.WebsiteURL = u
	}
	if p.SelectedServices != nil {
		sel := make(map[string]bool, len(p.SelectedServices))
		for k, on := range p.SelectedServices {
			k = strings.TrimSpace(k)
			if k == "" {
				return Settings{}, &domain.ConfigurationError{Field: "selected_services", Reason: "empty service key"}
			}
			sel[k] = on
		}
		next.SelectedServices = sel
	}
	if p.SelectedLocation != nil {
		loc, err := checkLocation(*p.SelectedLocation, next.Locations)
		if err != nil {
			return Settings{}, err
		}
		next.SelectedLocation = loc
	}
	if err := s.replace(next); err != nil {
		return Settings{}, err
	}
	return s.cur.clone(), nil
}

func checkWebsiteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &domain.ConfigurationError{Field: "website_url", Reason: "value is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &domain.ConfigurationError{Field: "website_url", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", raw)}
	}
	return raw, nil
}

// checkLocation rejects an empty value and, when known is non-empty, any value
// not listed there. A blank name is taken from the matching known entry.
func checkLocation(loc domain.LocationSelection, known []domain.LocationSelection) (domain.LocationSelection, error) {
	loc.Value = strings.TrimSpace(loc.Value)
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Value == "" {
		return loc, &domain.ConfigurationError{Field: "selected_location", Reason: "value is required"}
	}
	if len(known) == 0 {
		return loc, nil
	}
	i := slices.IndexFunc(known, func(k domain.LocationSelection) bool { return k.Value == loc.Value })
	if i < 0 {
		return loc, &domain.ConfigurationError{Field: "selected_location", Reason: fmt.Sprintf("unknown location %q", loc.Value)}
	}
	if loc.Name == "" {
		loc.Name = known[i].Name
	}
	return loc, nil
}

// Reload re-reads the file. It reports false when the content is what this
// store wrote last.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}
	h := hashBytes(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == s.lastHash {
		return false, nil
	}
	doc, err := decode(b)
	if err != nil {
		return false, err
	}
	s.cur = doc
	s.lastHash = h
	return true, nil
}
