package server

import (
	"sync"

	"github.com/ppiankov/tradeguard/internal/gate"
)

// Event types pushed to a tab over its websocket.
const (
	EventControls = "controls"
	EventNotice   = "notice"
	EventCloseTab = "close_tab"
	EventSettings = "settings"
)

// Event is one message on the events websocket.
type Event struct {
	Type     string              `json:"type"`
	Controls []gate.ControlState `json:"controls,omitempty"`
	Message  string              `json:"message,omitempty"`
	Keys     []string            `json:"keys,omitempty"`
}

// hubBuffer is the per-connection queue depth. A connection that falls this
// far behind drops events; the next controls event carries full state.
const hubBuffer = 32

// hub fans session events out to the tab's websocket connections.
type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, hubBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// publish returns the number of connections the event was queued for.
func (h *hub) publish(e Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for ch := range h.subs {
		select {
		case ch <- e:
			n++
		default:
		}
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
