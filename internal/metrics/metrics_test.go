package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("api", "get", "/api/divers", "200", 10*time.Millisecond)
	m.RecordHTTPRequest("api", "GET", "/api/divers", "200", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("api", "GET", "/api/divers", "200")); got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
}

func TestInFlight(t *testing.T) {
	m := New()
	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	if got := testutil.ToFloat64(m.httpInFlight); got != 1 {
		t.Errorf("inflight = %v, want 1", got)
	}
}

func TestRecordRepositoryOperation(t *testing.T) {
	m := New()
	m.RecordRepositoryOperation("supabase", "list_divers", 0, nil)
	m.RecordRepositoryOperation("supabase", "list_divers", time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.repoOps.WithLabelValues("supabase", "list_divers", "true")); got != 1 {
		t.Errorf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.repoOps.WithLabelValues("supabase", "list_divers", "false")); got != 1 {
		t.Errorf("failure count = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetBackendLoaded(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "prodesk_supabase_backend_loaded 1") {
		t.Errorf("backend_loaded gauge missing from output")
	}
}
