package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/domain"
)

// Checker is the part of the engine a recurring trigger needs.
type Checker interface {
	CheckNow(ctx context.Context) ([]domain.CheckResult, error)
}

// CronTrigger calls CheckNow on a cron schedule. It is just another caller of
// the engine, so a firing that meets a running cycle is skipped.
type CronTrigger struct {
	log     *zap.Logger
	checker Checker
	timeout time.Duration
	c       *cron.Cron
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCronTrigger validates spec. timeout bounds how long one firing waits for
// its cycle; zero means 10 minutes.
func NewCronTrigger(logger *zap.Logger, spec string, checker Checker, timeout time.Duration) (*CronTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	t := &CronTrigger{
		log:     logger,
		checker: checker,
		timeout: timeout,
		c:       cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := t.c.AddFunc(spec, t.fire); err != nil {
		return nil, &domain.ConfigurationError{Field: "check_cron", Reason: fmt.Sprintf("%q: %v", spec, err)}
	}
	return t, nil
}

func (t *CronTrigger) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	res, err := t.checker.CheckNow(ctx)
	switch {
	case errors.Is(err, domain.ErrBusy):
		t.log.Info("cron_check_skipped", zap.String("reason", "cycle in flight"))
	case err != nil:
		t.log.Warn("cron_check_failed", zap.Error(err))
	default:
		t.log.Info("cron_check_done", zap.Int("results", len(res)))
	}
}

// Run starts the schedule and blocks until ctx is done.
func (t *CronTrigger) Run(ctx context.Context) {
	t.c.Start()
	t.log.Info("cron_trigger_started")
	<-ctx.Done()
	<-t.c.Stop().Done()
	t.log.Info("cron_trigger_stopped")
}
