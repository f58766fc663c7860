package tradeguard

import (
	"fmt"

	"github.com/ppiankov/tradeguard/internal/model"
)

// Reason tags why a trade was blocked.
type Reason = model.Reason

const (
	ReasonTime  = model.ReasonTime
	ReasonLimit = model.ReasonLimit
)

// Result is the policy decision for the next trade action.
type Result struct {
	Allowed   bool
	Reason    Reason
	Count     int
	Max       int
	Remaining int
	// Warning is set when the trading window was misconfigured and ignored.
	Warning string
}

// BlockedError is returned when policy denies a trade action.
type BlockedError struct {
	Reason Reason
	Count  int
	Max    int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("tradeguard blocked (%s): %s, %d/%d used today", e.Reason, e.Reason.Describe(), e.Count, e.Max)
}

func blocked(o model.Outcome) *BlockedError {
	return &BlockedError{Reason: o.Decision.Reason, Count: o.Count, Max: o.Max}
}
