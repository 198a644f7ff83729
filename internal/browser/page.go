// Package browser abstracts the headless browser the navigator drives.
package browser

import "context"

// Option is one entry of a <select> element.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Page is the set of interactions the navigator needs from a browser tab.
// Every call is bounded by the deadline of ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	Value(ctx context.Context, sel string) (string, error)
	SelectOption(ctx context.Context, sel, value string) error
	Options(ctx context.Context, sel string) ([]Option, error)
	Text(ctx context.Context, sel string) (string, error)
	OuterHTML(ctx context.Context, sel string) (string, error)
	// Alive reports whether the underlying session can still be used.
	Alive(ctx context.Context) bool
	Close() error
}

// Launcher opens a fresh browser session.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
