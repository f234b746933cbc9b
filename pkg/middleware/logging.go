package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadwatch/core/pkg/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags each request with an id, puts a request-scoped logger
// into the context and logs the outcome
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLog := log.WithRequestID(requestID)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(reqLog.ToContext(r.Context())))

			reqLog.Info().
				Str("action", "http_request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", rec.status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
