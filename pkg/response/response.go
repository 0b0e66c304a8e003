package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
)

// ErrorBody is the envelope returned for every error produced by the gateway
// itself. Errors relayed from a backend keep the backend's own body.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	RequestID  string `json:"requestId,omitempty"`
	Service    string `json:"service,omitempty"`
}

// Error writes a gateway error envelope. Rate-limit errors also carry a
// Retry-After header in whole seconds.
func Error(w http.ResponseWriter, r *http.Request, err *errs.Error) {
	status := err.Status()
	if err.Kind == errs.RateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(err.RetryAfter)))
	}

	JSON(w, status, ErrorBody{
		StatusCode: status,
		Message:    err.Message,
		Error:      http.StatusText(status),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Path:       r.URL.Path,
		RequestID:  reqctx.RequestID(r.Context()),
		Service:    err.Service,
	})
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
