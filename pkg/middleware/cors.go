package middleware

import "net/http"

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// CORS lets browser dashboards read the ops API. The API is read-only, and
// the request id is exposed to scripts.
func CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		h.Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// Preflight answers OPTIONS for routes registered with a GET pattern
func Preflight() http.HandlerFunc {
	return CORS(func(http.ResponseWriter, *http.Request) {})
}
