package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
	"github.com/quirck3n/refugio-gateway/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope. Panic detail only
// reaches the log.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					logger.Error("panic recovered",
						zap.String("request_id", reqctx.RequestID(r.Context())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("panic", fmt.Sprintf("%v", rec)),
						zap.ByteString("stack", debug.Stack()),
					)

					response.Error(w, r, errs.New(errs.Internal, "internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
