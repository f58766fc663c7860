package settings

// Persisted keys. Values are stored JSON-encoded.
const (
	KeyUsageCount          = "usage_count"
	KeyUsageDate           = "usage_date"
	KeyMaxDaily            = "max_daily_actions"
	KeyWindowEnabled       = "window_enabled"
	KeyWindowStart         = "window_start"
	KeyWindowEnd           = "window_end"
	KeyAllowedWeekdays     = "allowed_weekdays"
	KeyAutoClose           = "auto_close_enabled"
	KeyOptionsChangedToday = "options_changed_today"
	KeyOptionsLastChanged  = "options_last_changed"
)

// AllKeys lists every key that makes up a Snapshot.
var AllKeys = []string{
	KeyUsageCount,
	KeyUsageDate,
	KeyMaxDaily,
	KeyWindowEnabled,
	KeyWindowStart,
	KeyWindowEnd,
	KeyAllowedWeekdays,
	KeyAutoClose,
	KeyOptionsChangedToday,
	KeyOptionsLastChanged,
}

// IsKnownKey reports whether k belongs to the snapshot.
func IsKnownKey(k string) bool {
	for _, known := range AllKeys {
		if k == known {
			return true
		}
	}
	return false
}
