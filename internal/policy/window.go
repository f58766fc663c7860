package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is reported alongside a fail-open result when an enabled
// window cannot be validated.
var ErrInvalidWindow = errors.New("invalid trading window")

// MinutesPerDay bounds minute-of-day values: [0, MinutesPerDay).
const MinutesPerDay = 24 * 60

// Window restricts trading to a time-of-day range on a set of weekdays.
// Start is inclusive and End exclusive. End < Start wraps over midnight.
type Window struct {
	Enabled bool           `json:"enabled"`
	Start   string         `json:"start"`
	End     string         `json:"end"`
	Days    []time.Weekday `json:"days"`
}

// ParseClock converts an "HH:MM" string to minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q: expected HH:MM", s)
	}
	h, err := parseClockPart(hh, 23)
	if err != nil {
		return 0, fmt.Errorf("time %q: hour: %w", s, err)
	}
	m, err := parseClockPart(mm, 59)
	if err != nil {
		return 0, fmt.Errorf("time %q: minute: %w", s, err)
	}
	return h*60 + m, nil
}

func parseClockPart(s string, max int) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("expected 1-2 digits, got %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit in %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, fmt.Errorf("%d out of range 0-%d", n, max)
	}
	return n, nil
}

// MinuteOfDay returns the wall-clock minute of now in now's location.
func MinuteOfDay(now time.Time) int {
	return now.Hour()*60 + now.Minute()
}

// InWindow reports whether now falls inside w.
//
// A disabled window always allows. An enabled window whose times do not parse
// or whose weekday set is empty fails open: it returns true together with an
// error wrapping ErrInvalidWindow so the caller can log a warning. A broken
// restriction must never lock the user out of the surface that fixes it.
func InWindow(w Window, now time.Time) (bool, error) {
	if !w.Enabled {
		return true, nil
	}

	start, err := ParseClock(w.Start)
	if err != nil {
		return true, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return true, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
	}
	days := validDays(w.Days)
	if len(days) == 0 {
		return true, fmt.Errorf("%w: no allowed weekdays", ErrInvalidWindow)
	}

	if !days[now.Weekday()] {
		return false, nil
	}

	m := MinuteOfDay(now)
	if end < start {
		return m >= start || m < end, nil
	}
	return m >= start && m < end, nil
}

func validDays(days []time.Weekday) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
		}
	}
	return set
}
