package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/model"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "attempts_total",
			Help:      "Trade attempts by result: permitted, denied, ignored or error",
		},
		[]string{"result", "reason"},
	)

	reconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "reconciles_total",
			Help:      "Reconcile passes by decision",
		},
		[]string{"decision"},
	)

	sessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeguard",
			Name:      "sessions_open",
			Help:      "Open tab sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(reconcilesTotal)
	prometheus.MustRegister(sessionsOpen)
}

// Middleware records HTTP request duration and count.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.status)
			// Route pattern keeps session ids out of the labels.
			path := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}

			httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed by the websocket upgrade on the events route.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return hj.Hijack()
}

// SessionOpened and SessionClosed track the open session gauge.
func SessionOpened() { sessionsOpen.Inc() }
func SessionClosed() { sessionsOpen.Dec() }

// Observer counts gate evaluations.
type Observer struct{}

func (Observer) Reconciled(r gate.Reconciliation, err error) {
	switch {
	case err != nil:
		reconcilesTotal.WithLabelValues("error").Inc()
	case r.Skipped():
		reconcilesTotal.WithLabelValues("skipped").Inc()
	default:
		reconcilesTotal.WithLabelValues(r.Decision.String()).Inc()
	}
}

func (Observer) Attempted(_ string, o model.Outcome, err error) {
	switch {
	case err != nil:
		attemptsTotal.WithLabelValues("error", "").Inc()
	case o.Ignored:
		attemptsTotal.WithLabelValues("ignored", string(o.Decision.Reason)).Inc()
	case o.Permitted:
		attemptsTotal.WithLabelValues("permitted", "").Inc()
	default:
		attemptsTotal.WithLabelValues("denied", string(o.Decision.Reason)).Inc()
	}
}
