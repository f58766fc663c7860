package policy

import (
	"testing"
	"time"
)

func BenchmarkDecide_NoWindow(b *testing.B) {
	w := DefaultWindow()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decide(1, 2, w, now)
	}
}

func BenchmarkDecide_OvernightWindow(b *testing.B) {
	w := Window{Enabled: true, Start: "22:00", End: "06:00", Days: DefaultDays}
	now := time.Date(2026, 10, 19, 23, 30, 0, 0, time.Local)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decide(1, 2, w, now)
	}
}
