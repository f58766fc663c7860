package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/autoclose"
	"github.com/ppiankov/tradeguard/internal/gate"
)

var errNoTab = errors.New("no tab connected to receive the close request")

// Session is one trading tab: its controls, its gate and its event stream.
type Session struct {
	ID      string
	Created time.Time

	controls *gate.ControlSet
	gate     *gate.Gate
	closer   *autoclose.AutoCloser
	hub      *hub
	log      *zap.Logger

	mu      sync.Mutex
	streams int
	expire  func() bool
	closed  bool
}

// Notify implements autoclose.Notifier.
func (s *Session) Notify(_ context.Context, message string) {
	s.hub.publish(Event{Type: EventNotice, Message: message})
}

// CloseCurrentTab implements autoclose.TabCloser.
func (s *Session) CloseCurrentTab(context.Context) error {
	if s.hub.publish(Event{Type: EventCloseTab}) == 0 {
		return errNoTab
	}
	return nil
}

func (s *Session) publishControls() {
	s.hub.publish(Event{Type: EventControls, Controls: s.controls.States()})
}

// attach counts a connected event stream and stops a pending expiry.
func (s *Session) attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	if s.expire != nil {
		s.expire()
		s.expire = nil
	}
}

// detach drops an event stream. When the last one leaves, expire is
// scheduled after idle.
func (s *Session) detach(sched autoclose.Scheduler, idle time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams--
	s.armLocked(sched, idle, expire)
}

func (s *Session) arm(sched autoclose.Scheduler, idle time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(sched, idle, expire)
}

func (s *Session) armLocked(sched autoclose.Scheduler, idle time.Duration, expire func()) {
	if s.closed || s.streams > 0 || s.expire != nil {
		return
	}
	s.expire = sched.Schedule(idle, expire)
}

// idle reports whether no event stream is connected.
func (s *Session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams == 0
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	if s.expire != nil {
		s.expire()
		s.expire = nil
	}
	s.mu.Unlock()

	s.closer.Cancel()
	s.hub.close()
}

// registry holds the open sessions.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *registry) get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// all returns the sessions ordered by creation.
func (r *registry) all() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
