package policy

import (
	"fmt"
	"sort"
	"time"
)

// Default window bounds. The same values are used by every surface.
const (
	DefaultStart = "09:00"
	DefaultEnd   = "16:00"
)

// DefaultDays are the weekdays allowed when none are configured (Mon-Fri).
var DefaultDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// DefaultWindow returns the built-in window: disabled, 09:00-16:00, Mon-Fri.
func DefaultWindow() Window {
	days := make([]time.Weekday, len(DefaultDays))
	copy(days, DefaultDays)
	return Window{
		Enabled: false,
		Start:   DefaultStart,
		End:     DefaultEnd,
		Days:    days,
	}
}

// WeekdaysFromInts converts persisted weekday numbers (0=Sunday) to
// time.Weekday values. Out-of-range numbers are dropped.
func WeekdaysFromInts(days []int) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			continue
		}
		out = append(out, time.Weekday(d))
	}
	return out
}

// WeekdayInts converts weekdays to their persisted numbers, sorted and
// without duplicates.
func WeekdayInts(days []time.Weekday) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		n := int(d)
		if n < 0 || n > 6 || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Validate checks an enabled window the way the settings surface does before
// saving. The evaluator does not depend on it: it fails open regardless.
func (w Window) Validate() error {
	if !w.Enabled {
		return nil
	}
	if _, err := ParseClock(w.Start); err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	if _, err := ParseClock(w.End); err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	if len(validDays(w.Days)) == 0 {
		return fmt.Errorf("window enabled but no allowed weekdays selected")
	}
	return nil
}
