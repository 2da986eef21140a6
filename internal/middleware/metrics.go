package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/addfeaturesnow/prodesk/internal/logging"
	"github.com/addfeaturesnow/prodesk/internal/metrics"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// unmatchedRoute labels requests no route matched, so 404 scans do not
// create one series per scanned path.
const unmatchedRoute = "unmatched"

// routeLabel is the mux path template of the matched route.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

// statusRecorder remembers the status written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

// Status returns the written status, 200 when the handler wrote nothing.
func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// MetricsMiddleware counts requests by route template and status and tracks
// the in-flight gauge.
func MetricsMiddleware(serviceName string, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncrementInFlight()
			defer m.DecrementInFlight()

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			m.RecordHTTPRequest(serviceName, r.Method, routeLabel(r), strconv.Itoa(rec.Status()), time.Since(start))
		})
	}
}

// LoggingMiddleware takes the caller's trace id or issues one, echoes it
// and logs every finished request under its route template.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceHeader)
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			w.Header().Set(TraceHeader, traceID)

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.LogRequest(ctx, r.Method, routeLabel(r), rec.Status(), time.Since(start))
		})
	}
}
