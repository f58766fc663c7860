// Package autoclose asks the host to close the trading tab after a denial,
// when the user has opted in.
package autoclose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// DefaultDelay is how long the notice stays up before the tab closes.
const DefaultDelay = 3 * time.Second

// FlagSource reads the auto-close flag. *settings.Store satisfies it.
type FlagSource interface {
	Get(ctx context.Context) (settings.Snapshot, error)
}

// Notifier shows the countdown notice on the page.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// TabCloser asks the host to close the tab the page lives in.
type TabCloser interface {
	CloseCurrentTab(ctx context.Context) error
}

// Scheduler runs fn after d. The returned func cancels it if it has not run.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func() bool)
}

// TimerScheduler schedules on the runtime timer.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Message is the notice text for reason.
func Message(reason model.Reason, delay time.Duration) string {
	text := model.ReasonLimit.Describe()
	if reason == model.ReasonTime {
		text = model.ReasonTime.Describe()
	}
	return fmt.Sprintf("%s. Closing tab in %d seconds...", text, int(delay.Round(time.Second)/time.Second))
}

// AutoCloser implements the gate's close side effect.
type AutoCloser struct {
	flags     FlagSource
	notifier  Notifier
	tab       TabCloser
	scheduler Scheduler
	delay     time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	pending bool
	cancel  func() bool

	wg sync.WaitGroup
}

// Option configures an AutoCloser.
type Option func(*AutoCloser)

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(a *AutoCloser) {
		if d > 0 {
			a.delay = d
		}
	}
}

// WithScheduler overrides the timer-based scheduler.
func WithScheduler(s Scheduler) Option {
	return func(a *AutoCloser) { a.scheduler = s }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *AutoCloser) { a.log = log }
}

// New returns an AutoCloser.
func New(flags FlagSource, notifier Notifier, tab TabCloser, opts ...Option) *AutoCloser {
	a := &AutoCloser{
		flags:     flags,
		notifier:  notifier,
		tab:       tab,
		scheduler: TimerScheduler{},
		delay:     DefaultDelay,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Trigger returns immediately. The flag is read and the close scheduled in
// the background, detached from ctx's cancellation.
func (a *AutoCloser) Trigger(ctx context.Context, reason model.Reason) {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx, reason)
	}()
}

func (a *AutoCloser) run(ctx context.Context, reason model.Reason) {
	snap, err := a.flags.Get(ctx)
	if err != nil {
		a.log.Warn("auto-close: cannot read flag", zap.Error(err))
		return
	}
	if !snap.AutoClose {
		return
	}

	a.mu.Lock()
	if a.pending {
		a.mu.Unlock()
		return
	}
	a.pending = true
	a.mu.Unlock()

	a.log.Info("auto-close scheduled", zap.String("reason", string(reason)), zap.Duration("delay", a.delay))
	a.notifier.Notify(ctx, Message(reason, a.delay))

	cancel := a.scheduler.Schedule(a.delay, func() {
		if err := a.tab.CloseCurrentTab(ctx); err != nil {
			a.log.Warn("auto-close: close request failed", zap.Error(err))
		}
		a.mu.Lock()
		a.pending = false
		a.cancel = nil
		a.mu.Unlock()
	})

	a.mu.Lock()
	if a.pending {
		a.cancel = cancel
	}
	a.mu.Unlock()
}

// Pending reports whether a close is scheduled.
func (a *AutoCloser) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Cancel stops a scheduled close. It reports whether one was stopped.
func (a *AutoCloser) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil || !a.cancel() {
		return false
	}
	a.pending = false
	a.cancel = nil
	return true
}

// Wait blocks until every background flag lookup has finished. Scheduled
// closes are not waited for.
func (a *AutoCloser) Wait() {
	a.wg.Wait()
}
