package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// ChromeLauncher starts a local Chrome through chromedp.
type ChromeLauncher struct {
	Logger    *zap.Logger
	ExecPath  string
	Headless  bool
	UserAgent string
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.Headless),
		chromedp.WindowSize(1280, 1024),
	)
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	// The browser must outlive ctx, which only bounds the launch itself.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, &domain.BrowserFatalError{Err: fmt.Errorf("launch chrome: %w", err)}
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, &domain.BrowserFatalError{Err: fmt.Errorf("launch chrome: %w", ctx.Err())}
	}

	l.Logger.Info("browser_launched", zap.Bool("headless", l.Headless))
	return &Session{log: l.Logger, tabCtx: tabCtx, cancel: func() { tabCancel(); allocCancel() }}, nil
}

// Session is a single chromedp tab. It is not safe for concurrent navigation.
type Session struct {
	log    *zap.Logger
	tabCtx context.Context

	closeOnce sync.Once
	cancel    func()
}

// run executes actions on the tab, bounded by ctx without letting ctx
// cancellation tear down the tab itself.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.tabCtx.Err(); err != nil {
		return &domain.BrowserFatalError{Err: err}
	}
	rctx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		rctx, dcancel = context.WithDeadline(rctx, dl)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && s.tabCtx.Err() != nil {
		return &domain.BrowserFatalError{Err: err}
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (s *Session) Value(ctx context.Context, sel string) (string, error) {
	var v string
	err := s.run(ctx, chromedp.Value(sel, &v, chromedp.ByQuery))
	return v, err
}

func (s *Session) SelectOption(ctx context.Context, sel, value string) error {
	q, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	dispatch := fmt.Sprintf(
		`document.querySelector(%s).dispatchEvent(new Event("change", {bubbles: true}))`, q)
	return s.run(ctx,
		chromedp.SetValue(sel, value, chromedp.ByQuery),
		chromedp.Evaluate(dispatch, nil),
	)
}

func (s *Session) Options(ctx context.Context, sel string) ([]Option, error) {
	q, err := json.Marshal(sel + " option")
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(o => ({value: o.value, text: o.textContent.trim()}))`, q)
	var out []Option
	if err := s.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var v string
	err := s.run(ctx, chromedp.Text(sel, &v, chromedp.ByQuery))
	return v, err
}

func (s *Session) OuterHTML(ctx context.Context, sel string) (string, error) {
	var v string
	err := s.run(ctx, chromedp.OuterHTML(sel, &v, chromedp.ByQuery))
	return v, err
}

func (s *Session) Alive(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var n int
	return s.run(cctx, chromedp.Evaluate(`1`, &n)) == nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.log.Info("browser_closed")
	})
	return nil
}
