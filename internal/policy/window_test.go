package policy

import (
	"errors"
	"testing"
	"time"
)

// monday returns 2026-10-19 (a Monday) at hh:mm local time.
func monday(hh, mm int) time.Time {
	return time.Date(2026, 10, 19, hh, mm, 0, 0, time.Local)
}

func weekdays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

func TestParseClockValid(t *testing.T) {
	tests := map[string]int{
		"00:00": 0,
		"09:00": 540,
		"9:05":  545,
		"16:30": 990,
		"23:59": 1439,
	}
	for in, want := range tests {
		got, err := ParseClock(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %d, got %d", in, want, got)
		}
	}
}

func TestParseClockInvalid(t *testing.T) {
	for _, in := range []string{"", "0900", "24:00", "12:60", "ab:cd", "-1:00", "12:", ":30", "123:00"} {
		if _, err := ParseClock(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestInWindowDisabledAlwaysAllows(t *testing.T) {
	w := Window{Enabled: false, Start: "09:00", End: "10:00"}
	ok, err := InWindow(w, monday(3, 0))
	if err != nil || !ok {
		t.Errorf("expected allow with no error, got %v %v", ok, err)
	}
}

func TestInWindowBoundaryInclusivity(t *testing.T) {
	w := Window{Enabled: true, Start: "09:00", End: "16:00", Days: weekdays()}

	if ok, _ := InWindow(w, monday(9, 0)); !ok {
		t.Error("expected start minute to be permitted")
	}
	if ok, _ := InWindow(w, monday(15, 59)); !ok {
		t.Error("expected last minute before end to be permitted")
	}
	if ok, _ := InWindow(w, monday(16, 0)); ok {
		t.Error("expected end minute to be denied")
	}
	if ok, _ := InWindow(w, monday(8, 59)); ok {
		t.Error("expected minute before start to be denied")
	}
}

func TestInWindowIgnoresSeconds(t *testing.T) {
	w := Window{Enabled: true, Start: "09:00", End: "16:00", Days: weekdays()}
	now := time.Date(2026, 10, 19, 15, 59, 59, 999, time.Local)
	if ok, _ := InWindow(w, now); !ok {
		t.Error("expected 15:59:59 to be permitted at minute resolution")
	}
}

func TestInWindowOvernightWrap(t *testing.T) {
	w := Window{Enabled: true, Start: "22:00", End: "06:00", Days: weekdays()}

	if ok, _ := InWindow(w, monday(23, 30)); !ok {
		t.Error("expected 23:30 to be permitted")
	}
	if ok, _ := InWindow(w, monday(5, 59)); !ok {
		t.Error("expected 05:59 to be permitted")
	}
	if ok, _ := InWindow(w, monday(6, 0)); ok {
		t.Error("expected 06:00 to be denied")
	}
	if ok, _ := InWindow(w, monday(22, 0)); !ok {
		t.Error("expected 22:00 to be permitted")
	}
	if ok, _ := InWindow(w, monday(12, 0)); ok {
		t.Error("expected noon to be denied")
	}
}

func TestInWindowWeekdayGate(t *testing.T) {
	w := Window{Enabled: true, Start: "00:00", End: "23:59", Days: weekdays()}
	saturday := time.Date(2026, 10, 24, 12, 0, 0, 0, time.Local)
	if ok, _ := InWindow(w, saturday); ok {
		t.Error("expected Saturday to be denied")
	}
}

func TestInWindowEmptyDaysFailsOpen(t *testing.T) {
	w := Window{Enabled: true, Start: "09:00", End: "10:00"}
	for _, h := range []int{0, 9, 12, 23} {
		ok, err := InWindow(w, monday(h, 0))
		if !ok {
			t.Errorf("hour %d: expected fail-open allow", h)
		}
		if !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("hour %d: expected ErrInvalidWindow, got %v", h, err)
		}
	}
}

func TestInWindowOutOfRangeDaysFailOpen(t *testing.T) {
	w := Window{Enabled: true, Start: "09:00", End: "10:00", Days: []time.Weekday{9, -1}}
	ok, err := InWindow(w, monday(3, 0))
	if !ok || !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected fail-open with warning, got %v %v", ok, err)
	}
}

func TestInWindowBadTimesFailOpen(t *testing.T) {
	for _, w := range []Window{
		{Enabled: true, Start: "nine", End: "16:00", Days: weekdays()},
		{Enabled: true, Start: "09:00", End: "", Days: weekdays()},
	} {
		ok, err := InWindow(w, monday(3, 0))
		if !ok {
			t.Errorf("%+v: expected fail-open allow", w)
		}
		if !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("%+v: expected ErrInvalidWindow, got %v", w, err)
		}
	}
}

func TestInWindowEqualStartEndDeniesAll(t *testing.T) {
	w := Window{Enabled: true, Start: "09:00", End: "09:00", Days: weekdays()}
	if ok, _ := InWindow(w, monday(9, 0)); ok {
		t.Error("expected empty range to deny")
	}
}
