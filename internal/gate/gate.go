package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// Closer receives the auto-close side effect. Trigger must return without
// waiting for the close.
type Closer interface {
	Trigger(ctx context.Context, reason model.Reason)
}

// Observer is told about every gate evaluation. Implementations must not
// block.
type Observer interface {
	Reconciled(r Reconciliation, err error)
	Attempted(controlID string, o model.Outcome, err error)
}

// Reconciliation is the result of one reconcile pass.
type Reconciliation struct {
	Decision model.Decision `json:"decision"`
	Count    int            `json:"count"`
	Max      int            `json:"max"`
	// Controls is the number of controls the decision was applied to. Zero
	// means nothing was discovered and the pass was skipped.
	Controls int `json:"controls"`
	// Reset is true when this pass wrote the daily counter reset.
	Reset bool `json:"reset,omitempty"`
}

// Skipped reports whether the pass found no controls.
func (r Reconciliation) Skipped() bool {
	return r.Controls == 0
}

// Gate applies policy decisions to one page's controls. Use one Gate per tab.
type Gate struct {
	store     *settings.Store
	discovery Discovery
	closer    Closer
	observers []Observer
	now       func() time.Time
	log       *zap.Logger

	// mu serializes the transactional path within this tab.
	mu sync.Mutex
}

// Option configures a Gate.
type Option func(*Gate)

// WithCloser sets the auto-close side effect.
func WithCloser(c Closer) Option {
	return func(g *Gate) { g.closer = c }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observers = append(g.observers, o) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// New creates a Gate over store and discovery.
func New(store *settings.Store, discovery Discovery, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		discovery: discovery,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Reconcile brings every discovered control in line with the current
// decision. It writes only the lazy daily reset and never increments, so it
// is safe to call on every page change.
func (g *Gate) Reconcile(ctx context.Context) (Reconciliation, error) {
	r, err := g.reconcile(ctx)
	for _, o := range g.observers {
		o.Reconciled(r, err)
	}
	return r, err
}

func (g *Gate) reconcile(ctx context.Context) (Reconciliation, error) {
	controls := g.discovery.Controls()
	if len(controls) == 0 {
		return Reconciliation{}, nil
	}

	now := g.now()
	today := ratelimit.Today(now)

	snap, err := g.store.Get(ctx)
	if err != nil {
		g.log.Error("reconcile: settings read failed", zap.Error(err))
		return Reconciliation{}, fmt.Errorf("reconcile: %w", err)
	}

	r := Reconciliation{Controls: len(controls)}
	if ratelimit.Stale(snap.Usage, today) {
		err := g.store.Update(ctx, func(s settings.Snapshot) (*settings.Patch, error) {
			snap = s
			r.Reset = false
			// An attempt may have recorded today's first action since the read.
			if !ratelimit.Stale(s.Usage, today) {
				return nil, nil
			}
			r.Reset = true
			return settings.UsagePatch(ratelimit.Reset(today)), nil
		})
		if err != nil {
			// The decision below already treats the stale count as zero.
			g.log.Warn("reconcile: daily reset not written", zap.Error(err))
			r.Reset = false
		}
	}

	count, d := snap.Evaluate(now)
	if d.Warning != nil {
		g.log.Warn("trading window misconfigured, allowing", zap.Error(d.Warning))
	}
	r.Decision, r.Count, r.Max = d, count, snap.MaxDaily

	if d.Allowed {
		for _, c := range controls {
			c.Enable()
		}
		return r, nil
	}
	g.deny(ctx, controls, d.Reason)
	return r, nil
}

// Attempt runs the transactional path for a click on c. The caller may let
// the trade through only when the returned outcome is Permitted; on a store
// failure the outcome is not permitted and the error says why.
func (g *Gate) Attempt(ctx context.Context, c Control) (model.Outcome, error) {
	o, err := g.attempt(ctx, c)
	for _, obs := range g.observers {
		obs.Attempted(c.ID(), o, err)
	}
	return o, err
}

func (g *Gate) attempt(ctx context.Context, c Control) (model.Outcome, error) {
	if c.Disabled() {
		g.log.Debug("click ignored on disabled control", zap.String("control", c.ID()))
		return ignored(c), nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// A queued attempt may have been overtaken by one that hit the limit.
	if c.Disabled() {
		return ignored(c), nil
	}

	now := g.now()
	today := ratelimit.Today(now)

	var out model.Outcome
	err := g.store.Update(ctx, func(s settings.Snapshot) (*settings.Patch, error) {
		effective, d := s.Evaluate(now)
		out = model.Outcome{Decision: d, Count: effective, Max: s.MaxDaily}
		if !d.Allowed {
			return nil, nil
		}
		next := ratelimit.Usage{Count: effective + 1, Date: today}
		out.Permitted = true
		out.Count = next.Count
		return settings.UsagePatch(next), nil
	})
	if err != nil {
		g.log.Error("attempt not confirmed: settings write failed",
			zap.String("control", c.ID()), zap.Error(err))
		return model.Outcome{Permitted: false}, fmt.Errorf("attempt %s: %w", c.ID(), err)
	}

	if out.Decision.Warning != nil {
		g.log.Warn("trading window misconfigured, allowing", zap.Error(out.Decision.Warning))
	}

	controls := g.discovery.Controls()
	switch {
	case !out.Permitted:
		g.log.Info("trade blocked",
			zap.String("control", c.ID()),
			zap.String("reason", string(out.Decision.Reason)),
			zap.Int("count", out.Count),
			zap.Int("max", out.Max))
		g.deny(ctx, withControl(controls, c), out.Decision.Reason)
	case out.LimitReached():
		g.log.Info("trade permitted, daily limit reached",
			zap.String("control", c.ID()), zap.Int("count", out.Count), zap.Int("max", out.Max))
		g.deny(ctx, withControl(controls, c), model.ReasonLimit)
	default:
		g.log.Info("trade permitted",
			zap.String("control", c.ID()), zap.Int("count", out.Count), zap.Int("max", out.Max))
	}
	return out, nil
}

// deny disables controls and hands the close request off without waiting.
func (g *Gate) deny(ctx context.Context, controls []Control, reason model.Reason) {
	for _, c := range controls {
		c.Disable(reason)
	}
	if g.closer != nil {
		g.closer.Trigger(ctx, reason)
	}
}

func ignored(c Control) model.Outcome {
	return model.Outcome{Ignored: true, Decision: model.Deny(c.Reason())}
}

// withControl makes sure c is in controls, for callers that attempt on a
// control discovery does not list.
func withControl(controls []Control, c Control) []Control {
	for _, existing := range controls {
		if existing.ID() == c.ID() {
			return controls
		}
	}
	return append(controls, c)
}
