// Package pipeline runs every inbound request through the gateway stages in
// a fixed order: rate limit, authenticate, authorize, then the route handler.
// A stage that rejects the request ends the pipeline; no later stage runs.
package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/auth"
	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/ratelimit"
	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
	"github.com/quirck3n/refugio-gateway/pkg/events"
	"github.com/quirck3n/refugio-gateway/pkg/response"
)

// State is the position of a request in the pipeline.
type State int

const (
	Received State = iota
	RateChecked
	RateLimited
	Authenticated
	Unauthenticated
	Authorized
	Unauthorized
	Forwarded
	Errored
)

var stateNames = [...]string{
	Received:        "received",
	RateChecked:     "rate_checked",
	RateLimited:     "rate_limited",
	Authenticated:   "authenticated",
	Unauthenticated: "unauthenticated",
	Authorized:      "authorized",
	Unauthorized:    "unauthorized",
	Forwarded:       "forwarded",
	Errored:         "errored",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further stage runs after s.
func (s State) Terminal() bool {
	switch s {
	case RateLimited, Unauthenticated, Unauthorized, Forwarded, Errored:
		return true
	}
	return false
}

// Context is the mutable per-request state shared by the stages. Stages
// write it in order; the route handler only reads it.
type Context struct {
	Request   *http.Request
	Route     models.Route
	ClientKey string
	RequestID string
	Identity  *models.Identity
	State     State
	// Trace lists the stages that ran, in order.
	Trace []string
}

// Stage inspects or enriches pc. A nil error continues the pipeline; any
// error terminates it and is reported to the caller.
type Stage struct {
	Name string
	Run  func(ctx context.Context, pc *Context) error
}

// Handler serves a request that passed every stage.
type Handler func(w http.ResponseWriter, pc *Context) error

type Pipeline struct {
	stages    []Stage
	logger    *zap.Logger
	metrics   *metrics.Collector
	publisher events.Publisher
}

// New builds the pipeline. The stage order is fixed: rate limit, then
// authentication, then authorization.
func New(limiter *ratelimit.Limiter, validator auth.Validator, logger *zap.Logger, m *metrics.Collector, publisher events.Publisher) *Pipeline {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	p := &Pipeline{
		logger:    logger,
		metrics:   m,
		publisher: publisher,
	}
	p.stages = []Stage{
		{Name: "rate_limit", Run: p.rateLimit(limiter)},
		{Name: "authenticate", Run: authenticate(validator)},
		{Name: "authorize", Run: authorize},
	}
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Handler wraps h so that it only runs once route has passed every stage.
func (p *Pipeline) Handler(route models.Route, h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}

		ctx := r.Context()
		requestID := reqctx.RequestID(ctx)
		if requestID == "" {
			requestID = r.Header.Get("X-Request-Id")
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}
		clientKey := reqctx.ClientKey(ctx)
		if clientKey == "" {
			clientKey = remoteHost(r.RemoteAddr)
		}

		ctx = reqctx.WithRequestID(ctx, requestID)
		ctx = reqctx.WithClientKey(ctx, clientKey)
		ctx = reqctx.WithRoute(ctx, &route)

		pc := &Context{
			Request:   r.WithContext(ctx),
			Route:     route,
			ClientKey: clientKey,
			RequestID: requestID,
			State:     Received,
		}

		err := p.run(ctx, pc)
		if err == nil {
			pc.Request = pc.Request.WithContext(reqctx.WithIdentity(pc.Request.Context(), pc.Identity))
			if err = h(rec, pc); err != nil {
				pc.State = Errored
			} else {
				pc.State = Forwarded
			}
		}

		if err != nil {
			p.reject(rec, pc, err)
		}
		p.finish(pc, rec.status, time.Since(start))
	})
}

func (p *Pipeline) run(ctx context.Context, pc *Context) error {
	for _, stage := range p.stages {
		pc.Trace = append(pc.Trace, stage.Name)
		if err := stage.Run(ctx, pc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) reject(w http.ResponseWriter, pc *Context, err error) {
	gerr := errs.From(err)
	log := p.logger.With(
		zap.String("request_id", pc.RequestID),
		zap.String("route", pc.Route.Name),
		zap.String("state", pc.State.String()),
	)

	switch {
	case gerr.Kind == errs.Internal:
		log.Error("request failed", zap.Error(err))
	case pc.State == Errored:
		log.Warn("request failed", zap.Stringer("kind", gerr.Kind), zap.Error(err))
	default:
		log.Info("request rejected", zap.Stringer("kind", gerr.Kind), zap.String("reason", gerr.Message))
	}

	if w, ok := w.(*recorder); ok && w.wrote {
		return
	}
	response.Error(w, pc.Request, gerr)
}

func (p *Pipeline) finish(pc *Context, status int, duration time.Duration) {
	p.metrics.RecordRequest(pc.Route.Name, pc.Request.Method, status, duration)

	fields := map[string]interface{}{
		"request_id":  pc.RequestID,
		"route":       pc.Route.Name,
		"method":      pc.Request.Method,
		"path":        pc.Request.URL.Path,
		"status":      status,
		"state":       pc.State.String(),
		"duration_ms": duration.Milliseconds(),
		"client":      pc.ClientKey,
	}
	if pc.Identity != nil {
		fields["user_id"] = pc.Identity.UserID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(pc.Request.Context()), time.Second)
	defer cancel()
	err := p.publisher.Publish(ctx, events.Event{
		Type:    events.TypeRequest,
		Source:  "gateway",
		Message: pc.Request.Method + " " + pc.Request.URL.Path,
		Fields:  fields,
	})
	if err != nil {
		p.logger.Debug("failed to publish request event", zap.String("request_id", pc.RequestID), zap.Error(err))
	}
}

func (p *Pipeline) rateLimit(limiter *ratelimit.Limiter) func(context.Context, *Context) error {
	return func(ctx context.Context, pc *Context) error {
		d, err := limiter.Admit(ctx, pc.ClientKey)
		if err != nil {
			// A broken counter store must not take the gateway down.
			p.logger.Error("rate limiter unavailable, admitting request",
				zap.String("request_id", pc.RequestID),
				zap.Error(err),
			)
			pc.State = RateChecked
			return nil
		}
		if !d.Allowed {
			pc.State = RateLimited
			p.metrics.RecordRateLimited(d.Tier)
			return &errs.Error{
				Kind:       errs.RateLimited,
				Message:    "too many requests, limit of " + d.Tier + " window exceeded",
				RetryAfter: d.RetryAfter,
			}
		}
		pc.State = RateChecked
		return nil
	}
}

func authenticate(validator auth.Validator) func(context.Context, *Context) error {
	return func(_ context.Context, pc *Context) error {
		if pc.Route.IsPublic() {
			return nil
		}

		token, err := auth.BearerToken(pc.Request.Header.Get("Authorization"))
		if err == nil {
			pc.Identity, err = validator.Validate(token)
		}
		if err != nil {
			pc.State = Unauthenticated
			return errs.Wrap(errs.Unauthenticated, unauthenticatedMessage(err), err)
		}
		pc.State = Authenticated
		return nil
	}
}

func authorize(_ context.Context, pc *Context) error {
	if err := auth.Authorize(pc.Route, pc.Identity); err != nil {
		pc.State = Unauthorized
		return errs.Wrap(errs.Forbidden, err.Error(), err)
	}
	pc.State = Authorized
	return nil
}

func unauthenticatedMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "authentication token is required"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, auth.ErrAudienceMismatch):
		return "token audience mismatch"
	case errors.Is(err, auth.ErrIssuerMismatch):
		return "token issuer mismatch"
	case errors.Is(err, auth.ErrMalformedHeader):
		return "authorization header must use the Bearer scheme"
	default:
		return "invalid token"
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type recorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
