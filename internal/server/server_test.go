package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/ppiankov/tradeguard/internal/model"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// 2026-10-19 is a Monday.
var testNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.Local)

type immediateTimers struct{}

func (immediateTimers) Schedule(_ time.Duration, fn func()) func() bool {
	fn()
	return func() bool { return false }
}

// manualTimers holds scheduled tasks until the test fires them.
type manualTimers struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn   func()
	done bool
}

func (m *manualTimers) Schedule(_ time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &manualTask{fn: fn}
	m.tasks = append(m.tasks, task)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		live := !task.done
		task.done = true
		return live
	}
}

func (m *manualTimers) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.tasks {
		if !task.done {
			n++
		}
	}
	return n
}

// fire runs every pending task and returns how many ran.
func (m *manualTimers) fire() int {
	m.mu.Lock()
	var run []func()
	for _, task := range m.tasks {
		if !task.done {
			task.done = true
			run = append(run, task.fn)
		}
	}
	m.tasks = nil
	m.mu.Unlock()

	for _, fn := range run {
		fn()
	}
	return len(run)
}

type fixture struct {
	store  *settings.Store
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, initial settings.Patch) *fixture {
	t.Helper()
	store := settings.NewStore(settings.NewMemoryBackend(), nil)
	if !initial.IsEmpty() {
		if err := store.Set(context.Background(), initial); err != nil {
			t.Fatal(err)
		}
	}
	s := New(store, Config{}, WithClock(func() time.Time { return testNow }), WithTimers(immediateTimers{}))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.closeAll()
		ts.Close()
	})
	return &fixture{store: store, server: s, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func (f *fixture) openSession(t *testing.T, controls ...string) sessionResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/v1/sessions", controlsRequest{Controls: controls})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out sessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func (f *fixture) usage(t *testing.T) int {
	t.Helper()
	snap, err := f.store.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snap.Usage.Count
}

func usedToday(count, max int) settings.Patch {
	return settings.Patch{
		UsageCount: settings.Ptr(count),
		UsageDate:  settings.Ptr("2026-10-19"),
		MaxDaily:   settings.Ptr(max),
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("unexpected health response %d %s", resp.StatusCode, body)
	}
}

func TestOpenSessionReconcilesControls(t *testing.T) {
	f := newFixture(t, usedToday(2, 2))
	sess := f.openSession(t, "buy", "sell")

	if sess.ID == "" {
		t.Fatal("expected session id")
	}
	if sess.Reconciliation == nil || sess.Reconciliation.Decision.Allowed {
		t.Fatalf("expected a denying reconciliation, got %+v", sess.Reconciliation)
	}
	if len(sess.Controls) != 2 {
		t.Fatalf("expected 2 controls, got %d", len(sess.Controls))
	}
	for _, c := range sess.Controls {
		if !c.Disabled || c.Reason != model.ReasonLimit {
			t.Errorf("expected %s disabled with limit, got %+v", c.ID, c)
		}
	}
}

func TestOpenSessionWithoutControlsSkips(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	sess := f.openSession(t)
	if sess.Reconciliation != nil {
		t.Errorf("expected no reconciliation without controls, got %+v", sess.Reconciliation)
	}
}

func TestAttemptEndToEnd(t *testing.T) {
	f := newFixture(t, usedToday(1, 2))
	sess := f.openSession(t, "buy", "sell")

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/controls/buy/attempt", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out attemptResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Outcome.Permitted || out.Outcome.Count != 2 {
		t.Fatalf("expected permitted attempt at count 2, got %+v", out.Outcome)
	}
	for _, c := range out.Controls {
		if !c.Disabled || c.Reason != model.ReasonLimit {
			t.Errorf("expected %s disabled after last action, got %+v", c.ID, c)
		}
	}

	_, body = f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/controls/sell/attempt", nil)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Outcome.Permitted || !out.Outcome.Ignored {
		t.Errorf("expected suppressed attempt, got %+v", out.Outcome)
	}
	if got := f.usage(t); got != 2 {
		t.Errorf("expected stored count 2, got %d", got)
	}
}

func TestAttemptUnknownControlAndSession(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	sess := f.openSession(t, "buy")

	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/controls/hold/attempt", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown control, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/v1/sessions/nope/controls/buy/attempt", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

type brokenBackend struct{ *settings.MemoryBackend }

func (brokenBackend) Update(context.Context, []string, func(map[string][]byte) (map[string][]byte, error)) error {
	return &net.OpError{Op: "write", Err: os.ErrDeadlineExceeded}
}

func TestAttemptStoreFailureIs503(t *testing.T) {
	store := settings.NewStore(brokenBackend{settings.NewMemoryBackend()}, nil)
	s := New(store, Config{}, WithClock(func() time.Time { return testNow }))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sess, _, _ := s.OpenSession(context.Background(), "tab", []string{"buy"})
	defer s.CloseSession(sess.ID)

	resp, err := http.Post(ts.URL+"/v1/sessions/tab/controls/buy/attempt", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSyncControlsKeepsState(t *testing.T) {
	f := newFixture(t, usedToday(0, 2))
	sess := f.openSession(t, "buy")

	resp, body := f.do(t, http.MethodPut, "/v1/sessions/"+sess.ID+"/controls", controlsRequest{Controls: []string{"buy", "sell"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out sessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Controls) != 2 || out.Reconciliation == nil || !out.Reconciliation.Decision.Allowed {
		t.Errorf("unexpected sync response %+v", out)
	}
}

func TestSyncControlsRejectsEmptyBody(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	sess := f.openSession(t)
	resp, _ := f.do(t, http.MethodPut, "/v1/sessions/"+sess.ID+"/controls", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	sess := f.openSession(t, "buy")

	resp, _ := f.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second close, got %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, usedToday(1, 3))
	resp, body := f.do(t, http.MethodGet, "/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st settings.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.Count != 1 || st.Max != 3 || st.Remaining != 2 || !st.Decision.Allowed {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestPutSettingsOncePerDay(t *testing.T) {
	f := newFixture(t, settings.Patch{})

	resp, body := f.do(t, http.MethodPut, "/v1/settings", settings.Patch{MaxDaily: settings.Ptr(5)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var view settingsView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view.MaxDaily != 5 || !view.OptionsLocked || view.UnlocksIn == "" {
		t.Errorf("unexpected view after save %+v", view)
	}

	resp, body = f.do(t, http.MethodPut, "/v1/settings", settings.Patch{MaxDaily: settings.Ptr(9)})
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "13h 30m") {
		t.Errorf("expected remaining time in message, got %s", body)
	}
}

func TestPutSettingsValidation(t *testing.T) {
	f := newFixture(t, settings.Patch{})

	cases := map[string]any{
		"negative max":  settings.Patch{MaxDaily: settings.Ptr(-1)},
		"usage counter": settings.Patch{UsageCount: settings.Ptr(0)},
		"unknown field": map[string]any{"max_trades": 3},
		"empty patch":   settings.Patch{},
	}
	for name, body := range cases {
		resp, out := f.do(t, http.MethodPut, "/v1/settings", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, resp.StatusCode, out)
		}
	}
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatal(err)
	}
	return e
}

func dialEvents(t *testing.T, f *fixture, id string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/v1/sessions/" + id + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestEventsStreamAutoClose(t *testing.T) {
	initial := usedToday(1, 2)
	initial.AutoClose = settings.Ptr(true)
	f := newFixture(t, initial)
	sess := f.openSession(t, "buy")

	conn, ctx := dialEvents(t, f, sess.ID)
	first := readEvent(t, ctx, conn)
	if first.Type != EventControls || len(first.Controls) != 1 {
		t.Fatalf("expected initial controls event, got %+v", first)
	}

	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/controls/buy/attempt", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	seen := map[string]Event{}
	for len(seen) < 3 {
		e := readEvent(t, ctx, conn)
		seen[e.Type] = e
	}
	if !strings.HasPrefix(seen[EventNotice].Message, "Daily trading limit reached. Closing tab in 3 seconds") {
		t.Errorf("unexpected notice %q", seen[EventNotice].Message)
	}
	if _, ok := seen[EventCloseTab]; !ok {
		t.Error("expected close_tab event")
	}
	if c := seen[EventControls].Controls; len(c) != 1 || !c[0].Disabled {
		t.Errorf("expected disabled control in controls event, got %+v", c)
	}
}

func TestCloseTabWithoutConnectionFails(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	sess, _, err := f.server.OpenSession(context.Background(), "tab", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.CloseCurrentTab(context.Background()); err == nil {
		t.Error("expected error with no tab connected")
	}
}

func TestSettingsChangeReachesOtherSessions(t *testing.T) {
	f := newFixture(t, usedToday(0, 2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.server.WatchSettings(ctx); err != nil {
		t.Fatal(err)
	}

	a := f.openSession(t, "buy")
	b := f.openSession(t, "buy")
	conn, wsctx := dialEvents(t, f, b.ID)
	readEvent(t, wsctx, conn)

	// Another tab spends the whole budget.
	for i := 0; i < 2; i++ {
		f.do(t, http.MethodPost, "/v1/sessions/"+a.ID+"/controls/buy/attempt", nil)
	}

	deadline := time.After(3 * time.Second)
	for {
		sess, _ := f.server.Session(b.ID)
		if st := sess.controls.States(); st[0].Disabled {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session b was never reconciled")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sawSettings := false
	for !sawSettings {
		e := readEvent(t, wsctx, conn)
		sawSettings = e.Type == EventSettings
	}
}

func TestServeShutsDown(t *testing.T) {
	store := settings.NewStore(settings.NewMemoryBackend(), nil)
	s := New(store, Config{DailyReset: "0 0 0 * * *", ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestReloadAlerts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "alerts:\n  - url: http://127.0.0.1:1/hook\n    format: generic\n    events: [deny]\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	store := settings.NewStore(settings.NewMemoryBackend(), nil)
	s := New(store, Config{ConfigPath: path})
	if s.Dispatcher() != nil {
		t.Fatal("expected no dispatcher before reload")
	}
	if err := s.ReloadAlerts(); err != nil {
		t.Fatal(err)
	}
	if s.Dispatcher() == nil {
		t.Error("expected dispatcher after reload")
	}
}

func TestReloadAlertsWithoutPath(t *testing.T) {
	s := New(settings.NewStore(settings.NewMemoryBackend(), nil), Config{})
	if err := s.ReloadAlerts(); err == nil {
		t.Error("expected error without config path")
	}
}

func TestSessionWithoutStreamExpires(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	reaper := &manualTimers{}
	f.server.reaper = reaper

	sess := f.openSession(t, "buy")
	if n := reaper.fire(); n != 1 {
		t.Fatalf("expected one pending expiry, got %d", n)
	}
	if _, ok := f.server.Session(sess.ID); ok {
		t.Fatal("expected idle session to be closed")
	}
	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/reconcile", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after expiry, got %d", resp.StatusCode)
	}
}

func TestSessionExpiresAfterLastStreamLeaves(t *testing.T) {
	f := newFixture(t, settings.Patch{})
	reaper := &manualTimers{}
	f.server.reaper = reaper

	sess := f.openSession(t, "buy")
	conn, ctx := dialEvents(t, f, sess.ID)
	readEvent(t, ctx, conn)

	if n := reaper.fire(); n != 0 {
		t.Fatalf("expected expiry cancelled while connected, %d fired", n)
	}
	if _, ok := f.server.Session(sess.ID); !ok {
		t.Fatal("connected session was closed")
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.After(3 * time.Second)
	for reaper.live() == 0 {
		select {
		case <-deadline:
			t.Fatal("expiry not scheduled after the stream left")
		case <-time.After(10 * time.Millisecond):
		}
	}
	reaper.fire()
	if _, ok := f.server.Session(sess.ID); ok {
		t.Error("expected session closed after its stream left")
	}
}
