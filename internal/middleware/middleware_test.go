package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/addfeaturesnow/prodesk/internal/logging"
	"github.com/addfeaturesnow/prodesk/internal/metrics"
)

func quietLogger() *logging.Logger {
	l := logging.New("test", "info", "json")
	l.SetOutput(&bytes.Buffer{})
	return l
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowedOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://localhost:5173", "http://localhost:5173"},
		{"empty list allows all", nil, "http://localhost:5173", "http://localhost:5173"},
		{"exact", []string{"https://app.prodesk.io"}, "https://app.prodesk.io", "https://app.prodesk.io"},
		{"suffix", []string{".prodesk.io"}, "https://shop.prodesk.io", "https://shop.prodesk.io"},
		{"denied", []string{"https://app.prodesk.io"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCORSMiddleware(tt.allowed).Handler(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/divers", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/groups", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-User-ID") {
		t.Errorf("Allow-Headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestMockAuth(t *testing.T) {
	var seen string
	h := NewMockAuth("", quietLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != DefaultUserID {
		t.Errorf("user = %q, want %q", seen, DefaultUserID)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "instructor-7")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "instructor-7" {
		t.Errorf("user = %q, want instructor-7", seen)
	}
}

func TestRateLimiter_Blocks(t *testing.T) {
	rl := NewRateLimiter(1, 2, quietLogger())
	h := rl.Handler(okHandler())

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/divers", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/divers", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_ErrorBody(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	h := rl.Handler(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body["error"], "rate limit exceeded") {
		t.Errorf("error = %q", body["error"])
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(10, 10, quietLogger())
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(10 * time.Minute)
	rl.getLimiter("b")

	if removed := rl.Cleanup(5 * time.Minute); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rl.Len())
	}
}

func TestLoggingMiddleware_TraceID(t *testing.T) {
	var seen string
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(quietLogger()))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || rec.Header().Get("X-Trace-ID") != seen {
		t.Errorf("trace id %q, header %q", seen, rec.Header().Get("X-Trace-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "given")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "given" {
		t.Errorf("trace id = %q, want given", seen)
	}
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New()
	r := mux.NewRouter()
	r.Use(MetricsMiddleware("api", m))
	r.HandleFunc("/api/groups/{groupId}/members", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/groups/g1/members", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/groups/g2/members", nil))

	expected := `
# HELP prodesk_http_requests_total Total number of HTTP requests handled.
# TYPE prodesk_http_requests_total counter
prodesk_http_requests_total{method="POST",path="/api/groups/{groupId}/members",service="api",status="201"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "prodesk_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestMetricsMiddleware_UnmatchedRouteLabel(t *testing.T) {
	m := metrics.New()
	h := MetricsMiddleware("api", m)(http.NotFoundHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/.env", nil))

	expected := `
# HELP prodesk_http_requests_total Total number of HTTP requests handled.
# TYPE prodesk_http_requests_total counter
prodesk_http_requests_total{method="GET",path="unmatched",service="api",status="404"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "prodesk_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestLoggingMiddleware_LogsRouteTemplate(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("test", "info", "json")
	logger.SetOutput(&buf)

	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger))
	r.HandleFunc("/api/divers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/divers/d-42", nil))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["path"] != "/api/divers/{id}" {
		t.Errorf("path = %v, want route template", line["path"])
	}
	if line["status"] != float64(http.StatusNotFound) || line["level"] != "warning" {
		t.Errorf("status = %v, level = %v", line["status"], line["level"])
	}
}

func TestRateLimiter_IgnoresUserHeader(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	h := rl.Handler(NewMockAuth("", quietLogger()).Handler(okHandler()))

	codes := make([]int, 2)
	for i, user := range []string{"instructor-1", "instructor-2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/divers", nil)
		req.RemoteAddr = "10.0.0.9:4000"
		req.Header.Set(UserHeader, user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, a new X-User-ID must not reset the limit", codes)
	}
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want one limiter for the client IP", rl.Len())
	}
}
