package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Notifier interface {
	Name() string
	Send(ctx context.Context, title, text string) error
}

// Delivery is the outcome of one channel for one message.
type Delivery struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher fans a message out to every channel at once. Each channel gets
// its own timeout and one failing channel never stops the others.
type Dispatcher struct {
	log      *zap.Logger
	timeout  time.Duration
	channels []Notifier
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, channels ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{log: logger, timeout: timeout}
	for _, n := range channels {
		if n != nil {
			d.channels = append(d.channels, n)
		}
	}
	return d
}

func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, n := range d.channels {
		out = append(out, n.Name())
	}
	return out
}

// Deliver sends to all channels and waits for every one of them to settle.
// The result has one entry per channel, in registration order.
func (d *Dispatcher) Deliver(ctx context.Context, title, text string) []Delivery {
	out := make([]Delivery, len(d.channels))
	var wg sync.WaitGroup
	for i, n := range d.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			out[i] = Delivery{Channel: n.Name(), Success: true}
			if err := n.Send(cctx, title, text); err != nil {
				out[i].Success = false
				out[i].Error = err.Error()
				d.log.Warn("notify_failed", zap.String("channel", n.Name()), zap.Error(err))
				return
			}
			d.log.Debug("notify_sent", zap.String("channel", n.Name()))
		}()
	}
	wg.Wait()
	return out
}

// Send delivers to every channel and combines the failures.
func (d *Dispatcher) Send(ctx context.Context, title, text string) error {
	var err error
	for i, r := range d.Deliver(ctx, title, text) {
		if !r.Success {
			err = multierr.Append(err, &ChannelError{Channel: d.channels[i].Name(), Msg: r.Error})
		}
	}
	return err
}

type ChannelError struct {
	Channel string
	Msg     string
}

func (e *ChannelError) Error() string { return e.Channel + ": " + e.Msg }

// runCtx runs a blocking call that has no context of its own and gives up
// waiting once ctx ends.
func runCtx(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
