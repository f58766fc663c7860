package tradeguard

import (
	"context"
	"errors"
	"testing"
)

func TestWrapCallsAfterCounting(t *testing.T) {
	c, store := newTestClient(t, usage(0, 2))

	var seen int
	trade := c.Wrap(func(ctx context.Context) error {
		snap, err := store.Get(ctx)
		if err != nil {
			return err
		}
		seen = snap.Usage.Count
		return nil
	})
	if err := trade(context.Background()); err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Errorf("expected the action counted before the trade ran, saw %d", seen)
	}
}

func TestWrapBlocksWithoutCalling(t *testing.T) {
	c, _ := newTestClient(t, usage(2, 2))
	trade := c.Wrap(func(context.Context) error {
		t.Fatal("trade must not run when blocked")
		return nil
	})
	requireBlocked(t, trade(context.Background()))
}

func TestWrapPassesTradeError(t *testing.T) {
	c, store := newTestClient(t, usage(0, 2))
	rejected := errors.New("order rejected")
	trade := c.Wrap(func(context.Context) error { return rejected })

	if err := trade(context.Background()); !errors.Is(err, rejected) {
		t.Fatalf("expected trade error, got %v", err)
	}
	snap, _ := store.Get(context.Background())
	if snap.Usage.Count != 1 {
		t.Errorf("a failed trade still counts, got %d", snap.Usage.Count)
	}
}
