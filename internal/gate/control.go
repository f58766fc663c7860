package gate

import (
	"sort"
	"sync"

	"github.com/ppiankov/tradeguard/internal/model"
)

// Control is one trading button the gate can enable or disable.
type Control interface {
	ID() string
	Disabled() bool
	Reason() model.Reason
	Disable(reason model.Reason)
	Enable()
}

// Discovery returns the controls currently present on the page. Repeated
// calls return the same instance for the same ID.
type Discovery interface {
	Controls() []Control
}

// ControlState is the observable state of a control.
type ControlState struct {
	ID       string       `json:"id"`
	Disabled bool         `json:"disabled"`
	Reason   model.Reason `json:"reason,omitempty"`
}

// Button is the concrete Control kept for each discovered trading button.
// onChange fires only on real transitions.
type Button struct {
	id       string
	onChange func(ControlState)

	mu       sync.Mutex
	disabled bool
	reason   model.Reason
}

// NewButton returns an enabled button.
func NewButton(id string, onChange func(ControlState)) *Button {
	return &Button{id: id, onChange: onChange}
}

func (b *Button) ID() string { return b.id }

func (b *Button) Disabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disabled
}

func (b *Button) Reason() model.Reason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Disable marks the button disabled with reason. Re-disabling with the same
// reason is a no-op.
func (b *Button) Disable(reason model.Reason) {
	b.mu.Lock()
	if b.disabled && b.reason == reason {
		b.mu.Unlock()
		return
	}
	b.disabled = true
	b.reason = reason
	st := b.stateLocked()
	b.mu.Unlock()
	b.notify(st)
}

// Enable clears the disabled state. Enabling an enabled button is a no-op.
func (b *Button) Enable() {
	b.mu.Lock()
	if !b.disabled {
		b.mu.Unlock()
		return
	}
	b.disabled = false
	b.reason = model.ReasonNone
	st := b.stateLocked()
	b.mu.Unlock()
	b.notify(st)
}

// State returns a copy of the current state.
func (b *Button) State() ControlState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Button) stateLocked() ControlState {
	return ControlState{ID: b.id, Disabled: b.disabled, Reason: b.reason}
}

func (b *Button) notify(st ControlState) {
	if b.onChange != nil {
		b.onChange(st)
	}
}

// ControlSet is a concurrent registry of buttons. It implements Discovery.
type ControlSet struct {
	onChange func(ControlState)

	mu      sync.Mutex
	buttons map[string]*Button
}

// NewControlSet returns an empty set. onChange receives every transition of
// every button in the set and may be nil.
func NewControlSet(onChange func(ControlState)) *ControlSet {
	return &ControlSet{onChange: onChange, buttons: make(map[string]*Button)}
}

// Sync makes the set match ids. Existing buttons keep their instance and
// state; buttons no longer present are dropped. Empty ids are ignored.
func (s *ControlSet) Sync(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		present[id] = true
		if _, ok := s.buttons[id]; !ok {
			s.buttons[id] = NewButton(id, s.onChange)
		}
	}
	for id := range s.buttons {
		if !present[id] {
			delete(s.buttons, id)
		}
	}
}

// Lookup returns the button registered under id.
func (s *ControlSet) Lookup(id string) (*Button, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buttons[id]
	return b, ok
}

// Controls returns the registered buttons ordered by ID.
func (s *ControlSet) Controls() []Control {
	s.mu.Lock()
	ids := make([]string, 0, len(s.buttons))
	for id := range s.buttons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Control, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.buttons[id])
	}
	s.mu.Unlock()
	return out
}

// States returns the state of every button ordered by ID.
func (s *ControlSet) States() []ControlState {
	controls := s.Controls()
	out := make([]ControlState, 0, len(controls))
	for _, c := range controls {
		out = append(out, c.(*Button).State())
	}
	return out
}
