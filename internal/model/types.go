package model

import "fmt"

// Reason tags why a trade action was denied.
type Reason string

const (
	// ReasonNone is carried by permitted decisions.
	ReasonNone Reason = ""
	// ReasonTime means the clock is outside the configured trading window.
	ReasonTime Reason = "time"
	// ReasonLimit means the daily action limit has been reached.
	ReasonLimit Reason = "limit"
)

// ParseReason converts a wire value into a Reason.
// Unknown values map to ReasonNone.
func ParseReason(s string) Reason {
	switch Reason(s) {
	case ReasonTime, ReasonLimit:
		return Reason(s)
	default:
		return ReasonNone
	}
}

// Describe returns the user-facing sentence for a denial reason.
func (r Reason) Describe() string {
	switch r {
	case ReasonTime:
		return "Outside allowed trading hours"
	case ReasonLimit:
		return "Daily trading limit reached"
	default:
		return "Trading allowed"
	}
}

// Decision is the outcome of a single policy evaluation. It is recomputed on
// every evaluation and never cached.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`

	// Warning is set when the window configuration was invalid and the
	// evaluator failed open.
	Warning error `json:"-"`
}

// Permit returns an allowing decision.
func Permit() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return fmt.Sprintf("deny(%s)", d.Reason)
}

// Outcome is the result of a transactional attempt.
type Outcome struct {
	Permitted bool     `json:"permitted"`
	Decision  Decision `json:"decision"`
	Count     int      `json:"count"`
	Max       int      `json:"max"`

	// Ignored is true when the control was already disabled and the attempt
	// was suppressed without consulting the store.
	Ignored bool `json:"ignored,omitempty"`
}

// LimitReached reports whether this attempt consumed the last permitted action.
func (o Outcome) LimitReached() bool {
	return o.Permitted && o.Count >= o.Max
}
