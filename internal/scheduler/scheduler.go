// Package scheduler runs the periodic housekeeping jobs of a tradeguard
// process on cron specs with a leading seconds field.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/settings"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Runner wraps a cron instance bound to a base context.
type Runner struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context
}

// New returns a stopped runner. Jobs receive baseCtx.
func New(baseCtx context.Context, log *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. Failures are logged, not retried.
func (r *Runner) Add(name, spec string, job Job) error {
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.log.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		r.log.Debug("scheduled job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	return nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("scheduler started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("scheduler stopped")
}

// DailyReset clears yesterday's options change lock and then re-applies
// policy everywhere, since the usage counter is now stale for every tab.
func DailyReset(store *settings.Store, reconcileAll func(context.Context), now func() time.Time, log *zap.Logger) Job {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) error {
		reset, err := settings.ResetChangeLock(ctx, store, now())
		if err != nil {
			return fmt.Errorf("reset change lock: %w", err)
		}
		if reset {
			log.Info("options change lock reset")
		}
		if reconcileAll != nil {
			reconcileAll(ctx)
		}
		return nil
	}
}
