package ratelimit

import "fmt"

// CheckResult is the outcome of a daily limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the effective count against the daily maximum. The limit is
// reached when count >= max, so a max of zero denies every action.
func Check(count, max int) CheckResult {
	if count >= max {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    max,
			Reason:   fmt.Sprintf("daily limit reached: %d/%d actions today", count, max),
		}
	}
	return CheckResult{Current: count, Limit: max}
}

// Remaining returns how many actions are still permitted today.
func Remaining(count, max int) int {
	if count >= max {
		return 0
	}
	return max - count
}
