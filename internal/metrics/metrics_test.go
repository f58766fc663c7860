package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/model"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/v1/sessions/abc", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/sessions/{id}", "404"))
	if got < 1 {
		t.Errorf("expected request counted under route pattern, got %f", got)
	}
	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected duration observations")
	}
}

func TestStatusWriterKeepsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	w.WriteHeader(http.StatusTeapot)
	w.WriteHeader(http.StatusOK)
	if w.status != http.StatusTeapot {
		t.Errorf("expected 418, got %d", w.status)
	}
}

func TestObserverCountsAttempts(t *testing.T) {
	before := testutil.ToFloat64(attemptsTotal.WithLabelValues("denied", "limit"))
	Observer{}.Attempted("buy", model.Outcome{Decision: model.Deny(model.ReasonLimit)}, nil)
	if got := testutil.ToFloat64(attemptsTotal.WithLabelValues("denied", "limit")); got != before+1 {
		t.Errorf("expected denied/limit to grow by one, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(attemptsTotal.WithLabelValues("error", ""))
	Observer{}.Attempted("buy", model.Outcome{}, errors.New("disk"))
	if got := testutil.ToFloat64(attemptsTotal.WithLabelValues("error", "")); got != before+1 {
		t.Errorf("expected error count to grow by one, got %f -> %f", before, got)
	}
}

func TestObserverCountsReconciles(t *testing.T) {
	before := testutil.ToFloat64(reconcilesTotal.WithLabelValues("skipped"))
	Observer{}.Reconciled(gate.Reconciliation{}, nil)
	if got := testutil.ToFloat64(reconcilesTotal.WithLabelValues("skipped")); got != before+1 {
		t.Errorf("expected skipped to grow by one, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(reconcilesTotal.WithLabelValues("deny(time)"))
	Observer{}.Reconciled(gate.Reconciliation{Controls: 2, Decision: model.Deny(model.ReasonTime)}, nil)
	if got := testutil.ToFloat64(reconcilesTotal.WithLabelValues("deny(time)")); got != before+1 {
		t.Errorf("expected deny(time) to grow by one, got %f -> %f", before, got)
	}
}
