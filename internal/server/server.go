package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/autoclose"
	"github.com/ppiankov/tradeguard/internal/config"
	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/metrics"
	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/scheduler"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// DefaultIdleTimeout is used when Config.IdleTimeout is not set.
const DefaultIdleTimeout = 2 * time.Minute

// Config holds bridge server configuration.
type Config struct {
	Addr            string
	OriginPatterns  []string
	ShutdownTimeout time.Duration
	AutoCloseDelay  time.Duration
	DailyReset      string

	// IdleTimeout closes a session that has had no event stream connected
	// for this long. A tab that dies without DELETE is reaped this way.
	IdleTimeout time.Duration

	// ConfigPath is watched for alert changes. Empty disables hot-reload.
	ConfigPath string
}

// ConfigFrom builds the server configuration from the process config.
func ConfigFrom(cfg *config.Config, path string) Config {
	return Config{
		Addr:            cfg.Server.Addr,
		OriginPatterns:  cfg.Server.OriginPatterns,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AutoCloseDelay:  cfg.AutoClose.Delay,
		DailyReset:      cfg.Schedule.DailyReset,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ConfigPath:      path,
	}
}

// Server is the bridge between trading tabs and the settings store. Each tab
// opens a session, reports its controls and pushes attempts through it.
type Server struct {
	store    *settings.Store
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	timers   autoclose.Scheduler
	reaper   autoclose.Scheduler
	sessions *registry

	mu         sync.RWMutex
	dispatcher *alert.Dispatcher
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock overrides the wall clock for every session gate.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithDispatcher sets the initial alert dispatcher.
func WithDispatcher(d *alert.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithTimers overrides the auto-close timer source.
func WithTimers(t autoclose.Scheduler) Option {
	return func(s *Server) { s.timers = t }
}

// New creates a server over store.
func New(store *settings.Store, cfg Config, opts ...Option) *Server {
	s := &Server{
		store:    store,
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
		timers:   autoclose.TimerScheduler{},
		reaper:   autoclose.TimerScheduler{},
		sessions: newRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.AutoCloseDelay <= 0 {
		s.cfg.AutoCloseDelay = autoclose.DefaultDelay
	}
	if s.cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = 5 * time.Second
	}
	if s.cfg.IdleTimeout <= 0 {
		s.cfg.IdleTimeout = DefaultIdleTimeout
	}
	return s
}

// Dispatcher returns the current alert dispatcher. May be nil.
func (s *Server) Dispatcher() *alert.Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// SetDispatcher swaps the alert dispatcher. In-flight webhooks of the old one
// are left to finish on their own.
func (s *Server) SetDispatcher(d *alert.Dispatcher) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

// ReloadAlerts re-reads the config file and swaps the alert destinations.
// Other settings need a restart.
func (s *Server) ReloadAlerts() error {
	if s.cfg.ConfigPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := config.Load(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	s.SetDispatcher(alert.NewDispatcher(cfg.Alerts, s.log))
	s.log.Info("alerts reloaded", zap.Int("webhooks", len(cfg.Alerts)))
	return nil
}

// OpenSession registers a new tab with the given controls and reconciles it.
func (s *Server) OpenSession(ctx context.Context, id string, controls []string) (*Session, gate.Reconciliation, error) {
	sess := &Session{
		ID:       id,
		Created:  s.now(),
		controls: gate.NewControlSet(nil),
		hub:      newHub(),
		log:      s.log.With(zap.String("session", id)),
	}
	sess.closer = autoclose.New(s.store, sess, sess,
		autoclose.WithDelay(s.cfg.AutoCloseDelay),
		autoclose.WithScheduler(s.timers),
		autoclose.WithLogger(sess.log),
	)
	sess.gate = gate.New(s.store, sess.controls,
		gate.WithCloser(sess.closer),
		gate.WithObserver(metrics.Observer{}),
		gate.WithObserver(alertObserver{server: s, session: id}),
		gate.WithClock(s.now),
		gate.WithLogger(sess.log),
	)
	s.sessions.add(sess)
	metrics.SessionOpened()
	sess.log.Debug("session opened", zap.Int("controls", len(controls)))
	sess.arm(s.reaper, s.cfg.IdleTimeout, func() { s.expire(sess) })

	if len(controls) == 0 {
		return sess, gate.Reconciliation{}, nil
	}
	r, err := s.SyncControls(ctx, sess, controls)
	return sess, r, err
}

// CloseSession drops a tab. Pending auto-close timers are cancelled.
func (s *Server) CloseSession(id string) bool {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return false
	}
	sess.close()
	metrics.SessionClosed()
	sess.log.Debug("session closed")
	return true
}

// release is called when an event stream of sess ends.
func (s *Server) release(sess *Session) {
	sess.detach(s.reaper, s.cfg.IdleTimeout, func() { s.expire(sess) })
}

// expire closes sess if it is still open and still has no event stream.
func (s *Server) expire(sess *Session) {
	if !sess.idle() {
		return
	}
	if cur, ok := s.sessions.get(sess.ID); !ok || cur != sess {
		return
	}
	sess.log.Info("session expired", zap.Duration("idle", s.cfg.IdleTimeout))
	s.CloseSession(sess.ID)
}

// Session returns an open session.
func (s *Server) Session(id string) (*Session, bool) {
	return s.sessions.get(id)
}

// SyncControls replaces the discovered controls of sess and reconciles.
func (s *Server) SyncControls(ctx context.Context, sess *Session, ids []string) (gate.Reconciliation, error) {
	sess.controls.Sync(ids)
	return s.reconcile(ctx, sess)
}

func (s *Server) reconcile(ctx context.Context, sess *Session) (gate.Reconciliation, error) {
	r, err := sess.gate.Reconcile(ctx)
	if err == nil && !r.Skipped() {
		sess.publishControls()
	}
	return r, err
}

// Attempt runs the transactional path for one control of sess.
func (s *Server) Attempt(ctx context.Context, sess *Session, control string) (model.Outcome, error) {
	c, ok := sess.controls.Lookup(control)
	if !ok {
		return model.Outcome{}, errUnknownControl
	}
	out, err := sess.gate.Attempt(ctx, c)
	if err == nil && !out.Ignored {
		sess.publishControls()
	}
	return out, err
}

// ReconcileAll reconciles every open session. Failures are logged per
// session.
func (s *Server) ReconcileAll(ctx context.Context) {
	for _, sess := range s.sessions.all() {
		if _, err := s.reconcile(ctx, sess); err != nil {
			sess.log.Warn("reconcile failed", zap.Error(err))
		}
	}
}

// WatchSettings follows the store change feed until ctx is done. Every
// change reconciles all sessions and is announced to their tabs.
func (s *Server) WatchSettings(ctx context.Context) error {
	changes, err := s.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for change := range changes {
			s.log.Debug("settings changed", zap.Strings("keys", change.Keys))
			s.ReconcileAll(ctx)
			for _, sess := range s.sessions.all() {
				sess.hub.publish(Event{Type: EventSettings, Keys: change.Keys})
			}
		}
	}()
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the bridge on ln with the settings watcher, the daily reset job
// and config hot-reload. It shuts down gracefully when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.WatchSettings(ctx); err != nil {
		ln.Close()
		return err
	}

	runner := scheduler.New(ctx, s.log)
	if s.cfg.DailyReset != "" {
		job := scheduler.DailyReset(s.store, s.ReconcileAll, s.now, s.log)
		if err := runner.Add("daily-reset", s.cfg.DailyReset, job); err != nil {
			ln.Close()
			return err
		}
	}
	runner.Start()
	defer runner.Stop()

	if s.cfg.ConfigPath != "" {
		reloader, err := NewReloader(s, s.cfg.ConfigPath, s.log)
		if err != nil {
			s.log.Warn("config hot-reload disabled", zap.Error(err))
		} else {
			go reloader.Run(ctx)
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("tradeguard bridge listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not tracked by Shutdown; closing
	// the sessions ends their event streams.
	s.closeAll()
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer stop()
	err := srv.Shutdown(shutdownCtx)
	s.Dispatcher().Wait()
	s.log.Info("tradeguard bridge stopped")
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeAll() {
	for _, sess := range s.sessions.all() {
		s.CloseSession(sess.ID)
	}
}

// alertObserver resolves the dispatcher on every event so a hot-reload
// reaches sessions that are already open.
type alertObserver struct {
	server  *Server
	session string
}

func (o alertObserver) Reconciled(r gate.Reconciliation, err error) {
	o.server.Dispatcher().Observer(o.session).Reconciled(r, err)
}

func (o alertObserver) Attempted(control string, out model.Outcome, err error) {
	o.server.Dispatcher().Observer(o.session).Attempted(control, out, err)
}
