package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a gateway failure. Each kind maps to exactly one HTTP status.
type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	RateLimited
	UpstreamUnreachable
	UpstreamTimeout
	BadGatewayConfig
	NotFound
	BadRequest
	MethodNotAllowed
	PayloadTooLarge
)

var kindNames = map[Kind]string{
	Internal:            "InternalFault",
	Unauthenticated:     "Unauthenticated",
	Forbidden:           "Forbidden",
	RateLimited:         "RateLimited",
	UpstreamUnreachable: "UpstreamUnreachable",
	UpstreamTimeout:     "UpstreamTimeout",
	BadGatewayConfig:    "BadGatewayConfig",
	NotFound:            "NotFound",
	BadRequest:          "BadRequest",
	MethodNotAllowed:    "MethodNotAllowed",
	PayloadTooLarge:     "PayloadTooLarge",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Status returns the HTTP status code reported to the caller for this kind.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamUnreachable:
		return http.StatusServiceUnavailable
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case BadGatewayConfig:
		return http.StatusBadGateway
	case NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway failure. Message is safe to show to clients;
// Err holds the underlying cause for logs only.
type Error struct {
	Kind       Kind
	Message    string
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status is a shortcut for e.Kind.Status().
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New creates a classified error with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// From extracts an *Error from err. Unclassified errors become an Internal
// error with a generic message so internal detail never reaches the client.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal server error", err)
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
