package policy

import (
	"time"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
)

// Decide evaluates whether a trade action is permitted right now.
//
// Evaluation order (must not be changed):
//  1. Trading window: outside the window denies with reason "time",
//     whatever the count is. Market-hours restrictions are never masked by a
//     click-limit message.
//  2. Daily limit: effective >= max denies with reason "limit".
//
// effective must already have the daily reset applied (ratelimit.ResolveDailyCount).
func Decide(effective, max int, w Window, now time.Time) model.Decision {
	inWindow, warn := InWindow(w, now)
	if !inWindow {
		return model.Deny(model.ReasonTime)
	}

	var d model.Decision
	if ratelimit.Check(effective, max).Exceeded {
		d = model.Deny(model.ReasonLimit)
	} else {
		d = model.Permit()
	}
	d.Warning = warn
	return d
}
