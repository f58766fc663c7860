package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/tradeguard/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("tradeguard: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Usage:* %d / %d", event.Count, event.Max)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", reasonText(event))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Control:* %s", orDash(event.Control))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", orDash(event.Session))},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch event.Type {
	case EventStoreError:
		severity = "error"
	case EventDeny, EventLimitReached:
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("tradeguard %s: %s", event.Type, reasonText(event)),
			"severity": severity,
			"source":   "tradeguard",
			"custom_details": map[string]any{
				"session": event.Session,
				"control": event.Control,
				"count":   event.Count,
				"max":     event.Max,
				"reason":  event.Reason,
				"detail":  event.Detail,
			},
		},
	}
	return json.Marshal(payload)
}

func reasonText(event AlertEvent) string {
	if r := model.ParseReason(event.Reason); r != model.ReasonNone {
		return r.Describe()
	}
	if event.Detail != "" {
		return event.Detail
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
