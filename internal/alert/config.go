package alert

// Event types a webhook can subscribe to.
const (
	EventDeny           = "deny"
	EventLimitReached   = "limit_reached"
	EventOptionsChanged = "options_changed"
	EventStoreError     = "store_error"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "limit_reached", "options_changed"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Session   string `json:"session,omitempty"`
	Control   string `json:"control,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Count     int    `json:"count"`
	Max       int    `json:"max"`
	Detail    string `json:"detail,omitempty"`
}
