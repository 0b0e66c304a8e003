package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
)

const HeaderRequestID = "X-Request-Id"

// RequestID assigns the correlation id, reusing the caller's X-Request-Id
// when present, and echoes it on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			r = r.WithContext(reqctx.WithRequestID(r.Context(), requestID))
			w.Header().Set(HeaderRequestID, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
