package browser

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// Step names one navigation step and the selectors that may satisfy it,
// in the order they are tried.
type Step struct {
	Name      string   `yaml:"name"`
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
}

func (s Step) Selectors() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	if s.Primary != "" {
		out = append(out, s.Primary)
	}
	for _, f := range s.Fallbacks {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

type Locator struct {
	Logger  *zap.Logger
	Timeout time.Duration // per selector attempt
}

func NewLocator(logger *zap.Logger, timeout time.Duration) *Locator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Locator{Logger: logger, Timeout: timeout}
}

// Locate returns the first selector of step that becomes visible. When every
// selector fails it returns a *domain.StructuralError naming the step.
func (l *Locator) Locate(ctx context.Context, p Page, step Step) (string, error) {
	sels := step.Selectors()
	tried := make([]string, 0, len(sels))
	for _, sel := range sels {
		if err := ctx.Err(); err != nil {
			return "", &domain.TransientPageError{Step: step.Name, Err: err}
		}
		actx, cancel := context.WithTimeout(ctx, l.Timeout)
		err := p.WaitVisible(actx, sel)
		cancel()
		if err == nil {
			if len(tried) > 0 {
				l.Logger.Info("selector_fallback_used",
					zap.String("step", step.Name),
					zap.String("selector", sel),
					zap.Strings("missed", tried),
				)
			}
			return sel, nil
		}
		var fatal *domain.BrowserFatalError
		if errors.As(err, &fatal) {
			return "", err
		}
		tried = append(tried, sel)
		l.Logger.Debug("selector_miss",
			zap.String("step", step.Name),
			zap.String("selector", sel),
			zap.Error(err),
		)
	}
	return "", &domain.StructuralError{Step: step.Name, Tried: tried}
}
