// Request logging and metrics.

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/maruel/ksid"

	"github.com/neizzzy/garage/internal/server/reqctx"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// requestLogger assigns a request ID, logs each request and records per
// route metrics.
func requestLogger(next http.Handler, trusted []netip.Prefix) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ksid.NewID()
		ctx := reqctx.WithRequestID(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		// r.Pattern is set by the mux on the request passed to it.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		d := time.Since(start)
		metrics.GetOrCreateCounter(fmt.Sprintf(`garage_http_requests_total{route=%q,code="%d"}`, route, rec.status)).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`garage_http_request_duration_seconds{route=%q}`, route)).Update(d.Seconds())

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "http",
			"rid", id.String(),
			"m", r.Method,
			"p", r.URL.Path,
			"s", rec.status,
			"d", d.Round(time.Millisecond/10),
			"ip", reqctx.GetClientIP(r, trusted),
		)
	})
}

// metricsHandler serves metrics in the Prometheus text format.
func metricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}
