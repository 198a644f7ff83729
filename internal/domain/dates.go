package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout    = "2006/01/02"
	displayLayout = "02.01.2006"
)

// ParseDate accepts a canonical YYYY/MM/DD date or the DD.MM.YYYY display form
// and returns the canonical key.
func ParseDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ConfigurationError{Field: "date", Reason: "empty"}
	}
	layout := dateLayout
	if strings.Contains(s, ".") {
		layout = displayLayout
	}
	if len(s) != len(layout) {
		return "", &ConfigurationError{Field: "date", Reason: fmt.Sprintf("%q is not zero-padded YYYY/MM/DD", raw)}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return "", &ConfigurationError{Field: "date", Reason: fmt.Sprintf("%q: %v", raw, err)}
	}
	return t.Format(dateLayout), nil
}

// DisplayDate derives the DD.MM.YYYY form of a canonical date. Malformed input
// is returned unchanged.
func DisplayDate(canonical string) string {
	t, err := time.Parse(dateLayout, canonical)
	if err != nil {
		return canonical
	}
	return t.Format(displayLayout)
}

// YearMonth splits a canonical date into its calendar year and month.
func YearMonth(canonical string) (int, time.Month, error) {
	t, err := time.Parse(dateLayout, canonical)
	if err != nil {
		return 0, 0, &ConfigurationError{Field: "date", Reason: fmt.Sprintf("%q: %v", canonical, err)}
	}
	return t.Year(), t.Month(), nil
}
