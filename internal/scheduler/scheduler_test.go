package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/tradeguard/internal/settings"
)

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(context.Background(), nil)
	if err := r.Add("bad", "every day", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid spec")
	}
	if err := r.Add("midnight", "0 0 0 * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("expected seconds-field spec to parse, got %v", err)
	}
}

func TestRunnerRunsJobs(t *testing.T) {
	r := New(context.Background(), nil)
	ran := make(chan struct{}, 1)
	if err := r.Add("tick", "* * * * * *", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer r.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestDailyResetClearsLockAndReconciles(t *testing.T) {
	ctx := context.Background()
	store := settings.NewStore(settings.NewMemoryBackend(), nil)
	defer store.Close()

	changed := time.Date(2026, 10, 19, 18, 0, 0, 0, time.Local)
	if err := settings.SaveOptions(ctx, store, settings.Patch{MaxDaily: settings.Ptr(3)}, changed); err != nil {
		t.Fatal(err)
	}

	reconciled := 0
	midnight := time.Date(2026, 10, 20, 0, 0, 0, 0, time.Local)
	job := DailyReset(store, func(context.Context) { reconciled++ }, func() time.Time { return midnight }, nil)
	if err := job(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Lock.ChangedToday {
		t.Error("expected change lock cleared")
	}
	if reconciled != 1 {
		t.Errorf("expected one reconcile pass, got %d", reconciled)
	}
}
