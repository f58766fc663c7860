package ratelimit

import "fmt"

// DefaultMaxDaily is the number of trade actions permitted per day when no
// limit has been configured.
const DefaultMaxDaily = 2

// ValidateMax rejects negative daily limits. Zero is valid and denies every
// action.
func ValidateMax(max int) error {
	if max < 0 {
		return fmt.Errorf("max daily actions must be >= 0, got %d", max)
	}
	return nil
}
