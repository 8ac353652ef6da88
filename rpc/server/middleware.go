package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// --------------------------------------------------------------------------
// Middleware (logging, metrics, limits)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// knownMethods bounds the method label of the request metrics.
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	methodCopy: true, methodMove: true,
}

// instrument logs every request at debug level and records the request metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		method := r.Method
		if !knownMethods[method] {
			method = "other"
		}
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`hkv_requests_total{method=%q,status="%d"}`, method, rw.statusCode)).Inc()
		s.metrics.GetOrCreateHistogram(fmt.Sprintf(`hkv_request_duration_seconds{method=%q}`, method)).UpdateDuration(start)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// limit applies the request timeout and the body size limit.
func (s *Server) limit(next http.Handler) http.Handler {
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	maxBody := s.config.MaxBodyMB << 20

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		if timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
