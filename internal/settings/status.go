package settings

import (
	"fmt"
	"time"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
)

// Status is the read-only usage view shown by the CLI, the bridge and the
// MCP server.
type Status struct {
	Today         string         `json:"today"`
	Count         int            `json:"count"`
	Max           int            `json:"max"`
	Remaining     int            `json:"remaining"`
	Decision      model.Decision `json:"decision"`
	Warning       string         `json:"warning,omitempty"`
	Window        policy.Window  `json:"window"`
	AutoClose     bool           `json:"auto_close_enabled"`
	OptionsLocked bool           `json:"options_locked"`
	LastChanged   *time.Time     `json:"options_last_changed,omitempty"`
	UnlocksIn     string         `json:"options_unlock_in,omitempty"`
}

// StatusOf computes the view for s at now. The count is the effective count,
// so a counter left over from yesterday reads as zero.
func StatusOf(s Snapshot, now time.Time) Status {
	effective, d := s.Evaluate(now)
	st := Status{
		Today:         ratelimit.Today(now),
		Count:         effective,
		Max:           s.MaxDaily,
		Remaining:     ratelimit.Remaining(effective, s.MaxDaily),
		Decision:      d,
		Window:        s.Window,
		AutoClose:     s.AutoClose,
		OptionsLocked: s.Lock.Locked(now),
	}
	if d.Warning != nil {
		st.Warning = d.Warning.Error()
	}
	if !s.Lock.LastChanged.IsZero() {
		t := s.Lock.LastChanged
		st.LastChanged = &t
	}
	if st.OptionsLocked {
		st.UnlocksIn = FormatRemaining(UntilMidnight(now))
	}
	return st
}

// Summary is the one-line usage text.
func (st Status) Summary() string {
	return fmt.Sprintf("Today's usage: %d / %d trades", st.Count, st.Max)
}
