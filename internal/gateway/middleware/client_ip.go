package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
)

// ClientIP stores the caller address used as the rate-limit key.
func ClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(reqctx.WithClientKey(r.Context(), getClientIP(r)))
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// connection address. Forwarding headers are trusted as sent, so the gateway
// is expected to run behind a proxy that overwrites them.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
