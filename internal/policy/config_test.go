package policy

import (
	"reflect"
	"testing"
	"time"
)

func TestDefaultWindow(t *testing.T) {
	w := DefaultWindow()
	if w.Enabled {
		t.Error("expected default window disabled")
	}
	if w.Start != "09:00" || w.End != "16:00" {
		t.Errorf("unexpected default bounds %s-%s", w.Start, w.End)
	}
	if len(w.Days) != 5 {
		t.Errorf("expected Mon-Fri, got %v", w.Days)
	}
}

func TestDefaultWindowDoesNotAliasDefaults(t *testing.T) {
	w := DefaultWindow()
	w.Days[0] = time.Sunday
	if DefaultDays[0] != time.Monday {
		t.Error("DefaultWindow must copy DefaultDays")
	}
}

func TestWeekdaysFromIntsDropsOutOfRange(t *testing.T) {
	got := WeekdaysFromInts([]int{0, 3, 7, -1, 6})
	want := []time.Weekday{time.Sunday, time.Wednesday, time.Saturday}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWeekdayIntsSortedUnique(t *testing.T) {
	got := WeekdayInts([]time.Weekday{time.Friday, time.Monday, time.Friday})
	want := []int{1, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestValidateDisabledSkipsChecks(t *testing.T) {
	w := Window{Enabled: false, Start: "junk"}
	if err := w.Validate(); err != nil {
		t.Errorf("expected nil for disabled window, got %v", err)
	}
}

func TestValidateEnabled(t *testing.T) {
	bad := []Window{
		{Enabled: true, Start: "x", End: "16:00", Days: DefaultDays},
		{Enabled: true, Start: "09:00", End: "99:00", Days: DefaultDays},
		{Enabled: true, Start: "09:00", End: "16:00"},
	}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Errorf("%+v: expected error", w)
		}
	}

	good := Window{Enabled: true, Start: "22:00", End: "06:00", Days: DefaultDays}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid overnight window, got %v", err)
	}
}
