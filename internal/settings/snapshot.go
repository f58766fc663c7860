package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/ratelimit"
)

// ChangeLock restricts configuration changes to once per calendar day.
type ChangeLock struct {
	ChangedToday bool      `json:"changed_today"`
	LastChanged  time.Time `json:"last_changed"`
}

// Locked reports whether a configuration change is refused at now.
// A flag left over from a previous day does not lock.
func (l ChangeLock) Locked(now time.Time) bool {
	if !l.ChangedToday || l.LastChanged.IsZero() {
		return false
	}
	return ratelimit.Today(l.LastChanged.In(now.Location())) == ratelimit.Today(now)
}

// Snapshot is the decoded view of every persisted key.
type Snapshot struct {
	Usage     ratelimit.Usage `json:"usage"`
	MaxDaily  int             `json:"max_daily_actions"`
	Window    policy.Window   `json:"window"`
	AutoClose bool            `json:"auto_close_enabled"`
	Lock      ChangeLock      `json:"lock"`
}

// Defaults returns the snapshot used when nothing has been stored yet.
func Defaults() Snapshot {
	return Snapshot{
		MaxDaily: ratelimit.DefaultMaxDaily,
		Window:   policy.DefaultWindow(),
	}
}

// Evaluate resolves the effective count for today and decides on it. Both the
// reconciliation and the transactional path call this.
func (s Snapshot) Evaluate(now time.Time) (int, model.Decision) {
	effective := ratelimit.Snapshot(s.Usage, ratelimit.Today(now))
	return effective, policy.Decide(effective, s.MaxDaily, s.Window, now)
}

// Apply returns s with every field present in p overwritten.
func (s Snapshot) Apply(p Patch) Snapshot {
	if p.UsageCount != nil {
		s.Usage.Count = *p.UsageCount
	}
	if p.UsageDate != nil {
		s.Usage.Date = *p.UsageDate
	}
	if p.MaxDaily != nil {
		s.MaxDaily = *p.MaxDaily
	}
	if p.WindowEnabled != nil {
		s.Window.Enabled = *p.WindowEnabled
	}
	if p.WindowStart != nil {
		s.Window.Start = *p.WindowStart
	}
	if p.WindowEnd != nil {
		s.Window.End = *p.WindowEnd
	}
	if p.AllowedWeekdays != nil {
		s.Window.Days = policy.WeekdaysFromInts(*p.AllowedWeekdays)
	}
	if p.AutoClose != nil {
		s.AutoClose = *p.AutoClose
	}
	if p.OptionsChangedToday != nil {
		s.Lock.ChangedToday = *p.OptionsChangedToday
	}
	if p.OptionsLastChanged != nil {
		s.Lock.LastChanged = *p.OptionsLastChanged
	}
	return s
}

// Decode builds a Snapshot from raw stored values. Missing keys keep their
// defaults. A value that does not decode is a storage error.
func Decode(raw map[string][]byte) (Snapshot, error) {
	p, err := DecodePatch(raw)
	if err != nil {
		return Snapshot{}, err
	}
	return Defaults().Apply(p), nil
}

// Patch is a partial write. Nil fields are left untouched.
type Patch struct {
	UsageCount          *int       `json:"usage_count,omitempty"`
	UsageDate           *string    `json:"usage_date,omitempty"`
	MaxDaily            *int       `json:"max_daily_actions,omitempty"`
	WindowEnabled       *bool      `json:"window_enabled,omitempty"`
	WindowStart         *string    `json:"window_start,omitempty"`
	WindowEnd           *string    `json:"window_end,omitempty"`
	AllowedWeekdays     *[]int     `json:"allowed_weekdays,omitempty"`
	AutoClose           *bool      `json:"auto_close_enabled,omitempty"`
	OptionsChangedToday *bool      `json:"options_changed_today,omitempty"`
	OptionsLastChanged  *time.Time `json:"options_last_changed,omitempty"`
}

// Ptr returns a pointer to v. Used to build patches.
func Ptr[T any](v T) *T {
	return &v
}

// UsagePatch writes both halves of the counter together.
func UsagePatch(u ratelimit.Usage) *Patch {
	return &Patch{UsageCount: Ptr(u.Count), UsageDate: Ptr(u.Date)}
}

// Keys returns the keys p writes, in AllKeys order.
func (p Patch) Keys() []string {
	present := map[string]bool{
		KeyUsageCount:          p.UsageCount != nil,
		KeyUsageDate:           p.UsageDate != nil,
		KeyMaxDaily:            p.MaxDaily != nil,
		KeyWindowEnabled:       p.WindowEnabled != nil,
		KeyWindowStart:         p.WindowStart != nil,
		KeyWindowEnd:           p.WindowEnd != nil,
		KeyAllowedWeekdays:     p.AllowedWeekdays != nil,
		KeyAutoClose:           p.AutoClose != nil,
		KeyOptionsChangedToday: p.OptionsChangedToday != nil,
		KeyOptionsLastChanged:  p.OptionsLastChanged != nil,
	}
	var keys []string
	for _, k := range AllKeys {
		if present[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// IsEmpty reports whether p writes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Keys()) == 0
}

// TouchesConfig reports whether p writes anything besides the usage counter.
func (p Patch) TouchesConfig() bool {
	for _, k := range p.Keys() {
		if k != KeyUsageCount && k != KeyUsageDate {
			return true
		}
	}
	return false
}

// Encode converts p into raw stored values.
func (p Patch) Encode() (map[string][]byte, error) {
	out := make(map[string][]byte)
	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = data
		return nil
	}

	fields := []struct {
		key string
		set bool
		val func() any
	}{
		{KeyUsageCount, p.UsageCount != nil, func() any { return *p.UsageCount }},
		{KeyUsageDate, p.UsageDate != nil, func() any { return *p.UsageDate }},
		{KeyMaxDaily, p.MaxDaily != nil, func() any { return *p.MaxDaily }},
		{KeyWindowEnabled, p.WindowEnabled != nil, func() any { return *p.WindowEnabled }},
		{KeyWindowStart, p.WindowStart != nil, func() any { return *p.WindowStart }},
		{KeyWindowEnd, p.WindowEnd != nil, func() any { return *p.WindowEnd }},
		{KeyAllowedWeekdays, p.AllowedWeekdays != nil, func() any { return normalizeDays(*p.AllowedWeekdays) }},
		{KeyAutoClose, p.AutoClose != nil, func() any { return *p.AutoClose }},
		{KeyOptionsChangedToday, p.OptionsChangedToday != nil, func() any { return *p.OptionsChangedToday }},
		{KeyOptionsLastChanged, p.OptionsLastChanged != nil, func() any { return p.OptionsLastChanged.Format(time.RFC3339) }},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := put(f.key, f.val()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodePatch converts raw stored values into a Patch. Unknown keys are
// ignored.
func DecodePatch(raw map[string][]byte) (Patch, error) {
	var p Patch
	for key, data := range raw {
		if len(data) == 0 {
			continue
		}
		var err error
		switch key {
		case KeyUsageCount:
			p.UsageCount, err = decodeValue[int](data)
		case KeyUsageDate:
			p.UsageDate, err = decodeValue[string](data)
		case KeyMaxDaily:
			p.MaxDaily, err = decodeValue[int](data)
		case KeyWindowEnabled:
			p.WindowEnabled, err = decodeValue[bool](data)
		case KeyWindowStart:
			p.WindowStart, err = decodeValue[string](data)
		case KeyWindowEnd:
			p.WindowEnd, err = decodeValue[string](data)
		case KeyAllowedWeekdays:
			p.AllowedWeekdays, err = decodeValue[[]int](data)
		case KeyAutoClose:
			p.AutoClose, err = decodeValue[bool](data)
		case KeyOptionsChangedToday:
			p.OptionsChangedToday, err = decodeValue[bool](data)
		case KeyOptionsLastChanged:
			p.OptionsLastChanged, err = decodeTime(data)
		}
		if err != nil {
			return Patch{}, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return p, nil
}

func decodeValue[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeTime(data []byte) (*time.Time, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func normalizeDays(days []int) []int {
	out := make([]int, 0, len(days))
	seen := make(map[int]bool, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
