package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrAlreadyActive = errors.New("monitoring already active")
	ErrNotActive     = errors.New("monitoring not active")
	ErrBusy          = errors.New("a check is already running")
)

// ConfigurationError rejects bad input at the boundary. It matches
// ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransientPageError is a timeout or navigation failure on a single step.
type TransientPageError struct {
	Step string
	Err  error
}

func (e *TransientPageError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *TransientPageError) Unwrap() error { return e.Err }

// StructuralError means no selector for a step matched the page.
type StructuralError struct {
	Step  string
	Tried []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("step %s: no selector matched (tried %s)", e.Step, strings.Join(e.Tried, ", "))
}

// NavigationLimitExceeded is returned when the calendar could not reach the
// target month within the paging bound.
type NavigationLimitExceeded struct {
	Year  int
	Month time.Month
	Steps int
}

func (e *NavigationLimitExceeded) Error() string {
	return fmt.Sprintf("calendar did not reach %02d/%d after %d steps", int(e.Month), e.Year, e.Steps)
}

// BrowserFatalError marks the browser session as unusable.
type BrowserFatalError struct {
	Err error
}

func (e *BrowserFatalError) Error() string {
	return fmt.Sprintf("browser session unusable: %v", e.Err)
}

func (e *BrowserFatalError) Unwrap() error { return e.Err }

// Classify maps an engine error to a short kind used in events and API payloads.
func Classify(err error) string {
	var (
		cfgErr    *ConfigurationError
		transErr  *TransientPageError
		structErr *StructuralError
		navErr    *NavigationLimitExceeded
		fatalErr  *BrowserFatalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fatalErr):
		return "browser_fatal"
	case errors.As(err, &structErr):
		return "structural"
	case errors.As(err, &navErr):
		return "navigation_limit"
	case errors.As(err, &transErr):
		return "transient"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "unknown"
	}
}

// StepOf returns the navigation step an error refers to, if any.
func StepOf(err error) string {
	var (
		transErr  *TransientPageError
		structErr *StructuralError
	)
	switch {
	case errors.As(err, &structErr):
		return structErr.Step
	case errors.As(err, &transErr):
		return transErr.Step
	}
	return ""
}
