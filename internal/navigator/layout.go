package navigator

import (
	"fmt"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/probe"
)

// ServiceControl is the +/activate control of one bookable service and the
// input that reflects its state.
type ServiceControl struct {
	Activate browser.Step
	ValueSel string
	Expect   string
}

// Layout holds every selector the navigator relies on.
type Layout struct {
	Form     browser.Step
	Location browser.Step
	Submit   browser.Step
	Calendar browser.Step
	Caption  browser.Step
	Prev     browser.Step
	Next     browser.Step

	// Services overrides the derived control for specific service keys.
	Services map[string]ServiceControl
	// ActivatePatterns and ValuePattern derive controls for other keys; %s is the key.
	ActivatePatterns []string
	ValuePattern     string

	CellAttr  string
	Available string
	Disabled  string
	TimeSel   string
	TypeSel   string
}

func DefaultLayout() Layout {
	return Layout{
		Form: browser.Step{
			Name:      "form",
			Primary:   "#concerns_accordion",
			Fallbacks: []string{"form#appointment", "form[action*='appointment']"},
		},
		Location: browser.Step{
			Name:      "location",
			Primary:   "select#location",
			Fallbacks: []string{"select[name='location']", "#location-select select"},
		},
		Submit: browser.Step{
			Name:      "submit",
			Primary:   "#forward_service",
			Fallbacks: []string{"button[type='submit']", "input[type='submit']", ".btn-next"},
		},
		Calendar: browser.Step{
			Name:      "calendar",
			Primary:   "#calendar",
			Fallbacks: []string{"table.calendar", ".ui-datepicker-calendar"},
		},
		Caption: browser.Step{
			Name:      "caption",
			Primary:   ".calendar-caption",
			Fallbacks: []string{".ui-datepicker-title", "caption"},
		},
		Prev: browser.Step{
			Name:      "prev",
			Primary:   ".calendar-prev",
			Fallbacks: []string{".ui-datepicker-prev", "a[title='Zurück']"},
		},
		Next: browser.Step{
			Name:      "next",
			Primary:   ".calendar-next",
			Fallbacks: []string{".ui-datepicker-next", "a[title='Weiter']"},
		},
		ActivatePatterns: []string{
			"#service-%s .plus",
			"[data-service='%s'] button.plus",
			"button[aria-label='%s +']",
		},
		ValuePattern: "#service-%s input",

		CellAttr:  "data-date",
		Available: ".available",
		Disabled:  ".disabled, [aria-disabled='true']",
		TimeSel:   ".slot-time",
		TypeSel:   ".slot-type",
	}
}

// Service returns the control used to activate key.
func (l Layout) Service(key string) ServiceControl {
	if c, ok := l.Services[key]; ok {
		if c.Expect == "" {
			c.Expect = "1"
		}
		return c
	}
	step := browser.Step{Name: "service:" + key}
	for i, p := range l.ActivatePatterns {
		sel := fmt.Sprintf(p, key)
		if i == 0 {
			step.Primary = sel
			continue
		}
		step.Fallbacks = append(step.Fallbacks, sel)
	}
	return ServiceControl{
		Activate: step,
		ValueSel: fmt.Sprintf(l.ValuePattern, key),
		Expect:   "1",
	}
}

func (l Layout) markers() probe.Markers {
	return probe.Markers{
		Grid:      l.Calendar,
		CellAttr:  l.CellAttr,
		Available: l.Available,
		Disabled:  l.Disabled,
		TimeSel:   l.TimeSel,
		TypeSel:   l.TypeSel,
	}
}
