package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_nil_receiver_is_noop(t *testing.T) {
	var m *Metrics
	m.CacheLookup(true)
	m.Upload(errors.New("x"))
	m.IncCueAdvances()
	m.SetActiveSessions(2)
	m.SetQueueStats(1, 2, 3)
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Upload(nil)
	m.Registration(errors.New("boom"))

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("miss lookups = %v", got)
	}
	if got := testutil.ToFloat64(m.uploadsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok uploads = %v", got)
	}
	if got := testutil.ToFloat64(m.registrations.WithLabelValues("error")); got != 1 {
		t.Errorf("failed registrations = %v", got)
	}

	m.SetQueueStats(4, 10, 1)
	if got := testutil.ToFloat64(m.queueTasks.WithLabelValues("pending")); got != 4 {
		t.Errorf("pending queue tasks = %v", got)
	}
	if got := testutil.ToFloat64(m.queueTasks.WithLabelValues("executed")); got != 10 {
		t.Errorf("executed queue tasks = %v", got)
	}
}

func TestRequestMiddleware_and_handler(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "404")); got != 1 {
		t.Errorf("requests{GET,404} = %v", got)
	}

	called := false
	rec := httptest.NewRecorder()
	m.Handler(func() { called = true; m.SetActiveSessions(3) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !called {
		t.Error("updateGauges not called")
	}
	if !strings.Contains(rec.Body.String(), "signoverlay_active_sessions 3") {
		t.Errorf("scrape missing gauge: %s", rec.Body.String())
	}
}
