package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
)

var (
	// ErrChangeLocked is returned when options were already changed today.
	ErrChangeLocked = errors.New("options can only be changed once per day")
	// ErrInvalidOptions wraps every validation failure.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrUsageNotWritable rejects option patches that touch the counter.
	ErrUsageNotWritable = errors.New("usage counter cannot be changed through options")
)

// LockedError carries how long until options can be changed again.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v; you can change options again in %s", ErrChangeLocked, FormatRemaining(e.Remaining))
}

func (e *LockedError) Unwrap() error {
	return ErrChangeLocked
}

// UntilMidnight returns the time left until the next local midnight.
func UntilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}

// FormatRemaining renders a duration as "3h 12m".
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

// Validate checks the fields present in p on their own.
func Validate(p Patch) error {
	if p.UsageCount != nil || p.UsageDate != nil {
		return ErrUsageNotWritable
	}
	if p.MaxDaily != nil {
		if err := ratelimit.ValidateMax(*p.MaxDaily); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	if p.WindowStart != nil {
		if _, err := policy.ParseClock(*p.WindowStart); err != nil {
			return fmt.Errorf("%w: start time: %v", ErrInvalidOptions, err)
		}
	}
	if p.WindowEnd != nil {
		if _, err := policy.ParseClock(*p.WindowEnd); err != nil {
			return fmt.Errorf("%w: end time: %v", ErrInvalidOptions, err)
		}
	}
	if p.AllowedWeekdays != nil {
		for _, d := range *p.AllowedWeekdays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: weekday %d out of range 0-6", ErrInvalidOptions, d)
			}
		}
	}
	return nil
}

// validateMerged checks the configuration that would result from a save.
func validateMerged(s Snapshot) error {
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// SaveOptions applies a configuration change, at most once per calendar day.
// The lock check, validation and write happen in one atomic update. The
// usage counter is never written here.
func SaveOptions(ctx context.Context, store *Store, p Patch, now time.Time) error {
	if err := Validate(p); err != nil {
		return err
	}
	if !p.TouchesConfig() {
		return fmt.Errorf("%w: nothing to change", ErrInvalidOptions)
	}
	// Lock fields are owned by this function.
	p.OptionsChangedToday = nil
	p.OptionsLastChanged = nil

	var saveErr error
	err := store.Update(ctx, func(s Snapshot) (*Patch, error) {
		if s.Lock.Locked(now) {
			saveErr = &LockedError{Remaining: UntilMidnight(now)}
			return nil, nil
		}
		if err := validateMerged(s.Apply(p)); err != nil {
			saveErr = err
			return nil, nil
		}
		saveErr = nil
		out := p
		out.OptionsChangedToday = Ptr(true)
		out.OptionsLastChanged = Ptr(now)
		return &out, nil
	})
	if err != nil {
		return err
	}
	return saveErr
}

// ResetChangeLock clears a change lock left over from a previous day. It is
// run at local midnight and is a no-op when nothing needs clearing.
func ResetChangeLock(ctx context.Context, store *Store, now time.Time) (bool, error) {
	reset := false
	err := store.Update(ctx, func(s Snapshot) (*Patch, error) {
		reset = false
		if !s.Lock.ChangedToday || s.Lock.Locked(now) {
			return nil, nil
		}
		reset = true
		return &Patch{OptionsChangedToday: Ptr(false)}, nil
	})
	if err != nil {
		return false, err
	}
	return reset, nil
}
