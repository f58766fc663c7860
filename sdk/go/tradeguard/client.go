package tradeguard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/config"
	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// Client gates trade actions against the shared settings store.
// Safe for concurrent use.
type Client struct {
	cfg       clientConfig
	store     *settings.Store
	ownsStore bool
	gate      *gate.Gate
}

// New creates a Client. Without a store option it opens the default SQLite
// database under ~/.tradeguard.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{
		open:   config.Default().StoreOptions(),
		source: "sdk",
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	store, owns := cfg.store, false
	if store == nil {
		var err error
		store, err = settings.Open(cfg.open, cfg.log)
		if err != nil {
			return nil, fmt.Errorf("tradeguard: failed to open settings: %w", err)
		}
		owns = true
	}

	// The SDK has no page controls; every Attempt brings its own.
	g := gate.New(store, gate.NewControlSet(nil),
		gate.WithClock(cfg.now),
		gate.WithLogger(cfg.log.With(zap.String("source", cfg.source))),
	)
	return &Client{cfg: cfg, store: store, ownsStore: owns, gate: g}, nil
}

// Check evaluates policy for the next action without counting anything.
func (c *Client) Check(ctx context.Context) (Result, error) {
	snap, err := c.store.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("tradeguard: read settings: %w", err)
	}
	count, d := snap.Evaluate(c.cfg.now())
	r := Result{
		Allowed:   d.Allowed,
		Reason:    d.Reason,
		Count:     count,
		Max:       snap.MaxDaily,
		Remaining: ratelimit.Remaining(count, snap.MaxDaily),
	}
	if d.Warning != nil {
		r.Warning = d.Warning.Error()
	}
	return r, nil
}

// Attempt records one trade action if policy allows it. A denial returns
// a *BlockedError; a store failure returns a wrapped error. In both cases
// the action must not be carried out.
func (c *Client) Attempt(ctx context.Context) (Result, error) {
	out, err := c.gate.Attempt(ctx, gate.NewButton(c.cfg.source, nil))
	if err != nil {
		return Result{}, fmt.Errorf("tradeguard: %w", err)
	}
	r := resultOf(out)
	if !out.Permitted {
		return r, blocked(out)
	}
	return r, nil
}

// Close releases the settings store if the client opened it.
func (c *Client) Close() error {
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

func resultOf(o model.Outcome) Result {
	r := Result{
		Allowed:   o.Permitted,
		Reason:    o.Decision.Reason,
		Count:     o.Count,
		Max:       o.Max,
		Remaining: ratelimit.Remaining(o.Count, o.Max),
	}
	if o.Decision.Warning != nil {
		r.Warning = o.Decision.Warning.Error()
	}
	return r
}
