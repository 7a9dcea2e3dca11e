package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// statusRecorder remembers the first status written. A handler that only
// calls Write answers 200.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

// Endpoint returns the path template of the matched mux route. Raw paths
// carry bearer ids and must never become label values.
func Endpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware counts requests by [method, endpoint, status_code]
// and observes their latency by [method, endpoint]. Install it with
// (*mux.Router).Use so the matched route is known.
func HTTPMetricsMiddleware(requests *prometheus.CounterVec, latency *prometheus.HistogramVec) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			endpoint := Endpoint(r)
			latency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
			requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		})
	}
}
