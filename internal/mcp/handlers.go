package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// --- Input/Output types ---

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput is today's usage and the current decision.
type StatusOutput struct {
	Today         string `json:"today"`
	Count         int    `json:"count"`
	Max           int    `json:"max"`
	Remaining     int    `json:"remaining"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	Summary       string `json:"summary"`
	WindowEnabled bool   `json:"window_enabled"`
	WindowStart   string `json:"window_start"`
	WindowEnd     string `json:"window_end"`
	Weekdays      []int  `json:"allowed_weekdays"`
	OptionsLocked bool   `json:"options_locked"`
	Warning       string `json:"warning,omitempty"`
}

// AttemptInput defines parameters for the tradeguard_attempt tool.
type AttemptInput struct {
	Label string `json:"label,omitempty" jsonschema:"what the trade is, for logs (e.g. BTC-USD buy)"`
}

// AttemptOutput is the result of a counted attempt.
type AttemptOutput struct {
	Permitted bool   `json:"permitted"`
	Blocked   bool   `json:"blocked,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
}

// --- Handlers ---

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	snap, err := s.store.Get(ctx)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("read settings: %w", err)
	}
	st := settings.StatusOf(snap, s.now())
	return nil, StatusOutput{
		Today:         st.Today,
		Count:         st.Count,
		Max:           st.Max,
		Remaining:     st.Remaining,
		Allowed:       st.Decision.Allowed,
		Reason:        string(st.Decision.Reason),
		Summary:       st.Summary(),
		WindowEnabled: st.Window.Enabled,
		WindowStart:   st.Window.Start,
		WindowEnd:     st.Window.End,
		Weekdays:      policy.WeekdayInts(st.Window.Days),
		OptionsLocked: st.OptionsLocked,
		Warning:       st.Warning,
	}, nil
}

func (s *Server) handleAttempt(ctx context.Context, req *mcpsdk.CallToolRequest, input AttemptInput) (*mcpsdk.CallToolResult, AttemptOutput, error) {
	id := s.agent
	if input.Label != "" {
		id = s.agent + ":" + input.Label
	}
	o, err := s.gate.Attempt(ctx, gate.NewButton(id, nil))
	if err != nil {
		// Not confirmed: the agent must not trade.
		return nil, AttemptOutput{}, err
	}

	out := AttemptOutput{
		Permitted: o.Permitted,
		Count:     o.Count,
		Max:       o.Max,
		Remaining: ratelimit.Remaining(o.Count, o.Max),
	}
	if !o.Permitted {
		out.Blocked = true
		out.Reason = string(o.Decision.Reason)
		out.Message = fmt.Sprintf("blocked: %s", o.Decision.Reason.Describe())
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	out.Message = fmt.Sprintf("permitted: trade %d of %d today", o.Count, o.Max)
	return nil, out, nil
}
