package ratelimit

import "time"

// DateLayout is the persisted format of the usage date (local calendar day).
const DateLayout = "2006-01-02"

// Usage is the persisted daily counter paired with the date it was last
// incremented on. The count is meaningful only when Date is today.
type Usage struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

// Today formats the calendar day of now in now's location. Callers pass
// local wall-clock time.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}

// ResolveDailyCount returns the effective count for a decision: count when
// lastDate is today, otherwise zero. Both the reconciliation and the
// transactional path go through this function.
func ResolveDailyCount(count int, lastDate, today string) int {
	if lastDate != today {
		return 0
	}
	if count < 0 {
		return 0
	}
	return count
}

// Snapshot returns the effective count of u for the given day.
func Snapshot(u Usage, today string) int {
	return ResolveDailyCount(u.Count, u.Date, today)
}

// Stale reports whether u belongs to a day other than today.
func Stale(u Usage, today string) bool {
	return u.Date != today
}

// Increment records one permitted action. A stale counter restarts at one.
func Increment(u Usage, today string) Usage {
	return Usage{Count: Snapshot(u, today) + 1, Date: today}
}

// Reset returns the zeroed counter for today.
func Reset(today string) Usage {
	return Usage{Count: 0, Date: today}
}
