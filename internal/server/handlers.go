package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/metrics"
	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/settings"
)

var errUnknownControl = errors.New("unknown control")

const maxBody = 64 << 10

type controlsRequest struct {
	Controls []string `json:"controls"`
}

type sessionResponse struct {
	ID             string               `json:"id"`
	Reconciliation *gate.Reconciliation `json:"reconciliation,omitempty"`
	Controls       []gate.ControlState  `json:"controls"`
}

type attemptResponse struct {
	Outcome  model.Outcome       `json:"outcome"`
	Controls []gate.ControlState `json:"controls"`
}

// settingsView is the options surface: configuration plus the change lock.
type settingsView struct {
	MaxDaily      int           `json:"max_daily_actions"`
	Window        policy.Window `json:"window"`
	AutoClose     bool          `json:"auto_close_enabled"`
	OptionsLocked bool          `json:"options_locked"`
	LastChanged   *time.Time    `json:"options_last_changed,omitempty"`
	UnlocksIn     string        `json:"options_unlock_in,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Post("/sessions", s.handleOpenSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleCloseSession)
			r.Put("/controls", s.handleSyncControls)
			r.Post("/reconcile", s.handleReconcile)
			r.Post("/controls/{control}/attempt", s.handleAttempt)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context())
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.StatusOf(snap, s.now()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context())
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap, s.now()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := decodeBody(r, &p, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := s.now()
	err := settings.SaveOptions(r.Context(), s.store, p, now)
	var locked *settings.LockedError
	switch {
	case errors.As(err, &locked):
		writeError(w, http.StatusLocked, err)
		return
	case errors.Is(err, settings.ErrInvalidOptions), errors.Is(err, settings.ErrUsageNotWritable):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}

	snap, err := s.store.Get(r.Context())
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	s.Dispatcher().Dispatch(alert.AlertEvent{
		Type:   alert.EventOptionsChanged,
		Detail: strings.Join(p.Keys(), ","),
		Max:    snap.MaxDaily,
	})
	writeJSON(w, http.StatusOK, viewOf(snap, now))
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req controlsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, rec, err := s.OpenSession(r.Context(), uuid.NewString(), req.Controls)
	if err != nil {
		// The session exists; the tab retries on its next page change.
		sess.log.Warn("initial reconcile failed", zap.Error(err))
	}
	resp := sessionResponse{ID: sess.ID, Controls: sess.controls.States()}
	if err == nil && !rec.Skipped() {
		resp.Reconciliation = &rec
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.CloseSession(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, errors.New("unknown session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncControls(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req controlsRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.SyncControls(r.Context(), sess, req.Controls)
	s.writeReconciliation(w, sess, rec, err)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rec, err := s.reconcile(r.Context(), sess)
	s.writeReconciliation(w, sess, rec, err)
}

func (s *Server) writeReconciliation(w http.ResponseWriter, sess *Session, rec gate.Reconciliation, err error) {
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	resp := sessionResponse{ID: sess.ID, Controls: sess.controls.States()}
	if !rec.Skipped() {
		resp.Reconciliation = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	out, err := s.Attempt(r.Context(), sess, chi.URLParam(r, "control"))
	switch {
	case errors.Is(err, errUnknownControl):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		// The action was not confirmed. The tab must not let the trade through.
		s.storeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponse{Outcome: out, Controls: sess.controls.States()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown session"))
	}
	return sess, ok
}

func (s *Server) storeFailure(w http.ResponseWriter, err error) {
	s.log.Error("settings store failure", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, err)
}

func viewOf(snap settings.Snapshot, now time.Time) settingsView {
	st := settings.StatusOf(snap, now)
	return settingsView{
		MaxDaily:      snap.MaxDaily,
		Window:        snap.Window,
		AutoClose:     snap.AutoClose,
		OptionsLocked: st.OptionsLocked,
		LastChanged:   st.LastChanged,
		UnlocksIn:     st.UnlocksIn,
	}
}

// decodeBody reads a JSON body. An empty body is accepted unless required.
func decodeBody(r *http.Request, v any, required bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) && !required {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return errors.New("request body is required")
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
