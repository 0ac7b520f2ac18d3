package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/metrics"
)

// RequestLogger returns middleware that logs HTTP requests at DEBUG level and
// records request counts and latency. Either argument may be nil.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil && m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			m.HTTPRequest(r.Method, wrapped.statusCode, elapsed)

			if logger != nil {
				logger.Debug("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", wrapped.statusCode),
					zap.Duration("duration", elapsed),
					zap.String("remote_addr", r.RemoteAddr),
				)
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

// WriteHeader records the first status code only; later calls are dropped
// instead of reaching net/http's "superfluous WriteHeader" warning.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.headerWritten {
		return
	}
	rw.statusCode = code
	rw.headerWritten = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets streaming responses (MCP over HTTP) pass through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
