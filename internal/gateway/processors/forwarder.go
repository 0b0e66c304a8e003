package processors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/registry"
	"github.com/quirck3n/refugio-gateway/internal/gateway/reqctx"
)

const (
	HeaderRequestID      = "X-Request-Id"
	HeaderGateway        = "X-Gateway"
	HeaderGatewayVersion = "X-Gateway-Version"
	HeaderUserID         = "X-User-Id"
	HeaderUserRole       = "X-User-Role"
	HeaderUserEmail      = "X-User-Email"
	HeaderUserRefugio    = "X-User-Refugio"

	gatewayName = "api-gateway"
)

// forwardedHeaders is the allow-list of inbound headers copied to backends.
// Everything else, including any client-supplied X-User-* header, is dropped.
var forwardedHeaders = []string{
	"Authorization",
	"Content-Type",
	"Accept",
	"X-Request-Id",
	"X-Forwarded-For",
	"X-Real-Ip",
	"User-Agent",
}

// hopHeaders are connection-scoped and never relayed back to the caller.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

type ForwarderConfig struct {
	Version string
	// Timeout is the absolute deadline of one forwarded call, retries included.
	Timeout time.Duration
	// Retries is the number of extra attempts made when a backend refuses the
	// connection. Zero disables retries.
	Retries int
}

// Forwarder sends requests to backends and relays their responses. Any
// status a backend answers with is a successful forward; only transport
// failures become gateway errors.
type Forwarder struct {
	registry   *registry.Registry
	httpClient *http.Client
	cfg        ForwarderConfig
	logger     *zap.Logger
	metrics    *metrics.Collector
}

func NewForwarder(reg *registry.Registry, cfg ForwarderConfig, logger *zap.Logger, m *metrics.Collector) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Forwarder{
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Backend redirects are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Forward relays in to path on service with its body unchanged.
func (f *Forwarder) Forward(ctx context.Context, service, path string, in *http.Request) (*models.ProxyResponse, error) {
	var body []byte
	if in.Body != nil {
		var err error
		body, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, bodyError(err, "failed to read request body")
		}
	}

	preq := f.BuildRequest(ctx, service, path, in)
	preq.Body = body
	return f.Do(ctx, preq)
}

// ForwardMultipart relays a multipart form: fields in their original order,
// plus file when one was uploaded.
func (f *Forwarder) ForwardMultipart(ctx context.Context, service, path string, in *http.Request, fields []models.FormField, file *models.FilePart) (*models.ProxyResponse, error) {
	body, contentType, err := encodeMultipart(fields, file)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to build multipart body", err)
	}

	preq := f.BuildRequest(ctx, service, path, in)
	preq.Header.Set("Content-Type", contentType)
	preq.Body = body
	return f.Do(ctx, preq)
}

// BuildRequest derives the outbound request from in without modifying it.
// Headers are the allow-listed inbound headers, then the gateway identity
// headers, then the caller identity headers when the request is
// authenticated.
func (f *Forwarder) BuildRequest(ctx context.Context, service, path string, in *http.Request) *models.ProxyRequest {
	requestID := reqctx.RequestID(ctx)
	if requestID == "" {
		requestID = in.Header.Get(HeaderRequestID)
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	header := make(http.Header, len(forwardedHeaders)+6)
	for _, name := range forwardedHeaders {
		for _, v := range in.Header.Values(name) {
			header.Add(name, v)
		}
	}

	header.Set(HeaderGateway, gatewayName)
	header.Set(HeaderGatewayVersion, f.cfg.Version)

	if id := reqctx.Identity(ctx); id != nil {
		header.Set(HeaderUserID, id.UserID)
		header.Set(HeaderUserRole, id.Role)
		if id.Email != "" {
			header.Set(HeaderUserEmail, id.Email)
		}
		if id.RefugioID != "" {
			header.Set(HeaderUserRefugio, id.RefugioID)
		}
	}
	header.Set(HeaderRequestID, requestID)

	return &models.ProxyRequest{
		Service:   service,
		Method:    in.Method,
		Path:      path,
		RawQuery:  in.URL.RawQuery,
		Header:    header,
		RequestID: requestID,
	}
}

// Do executes preq under the configured deadline.
func (f *Forwarder) Do(ctx context.Context, preq *models.ProxyRequest) (*models.ProxyResponse, error) {
	target, ok := f.registry.Lookup(preq.Service)
	if !ok {
		f.metrics.RecordUpstream(preq.Service, "config", 0)
		return nil, &errs.Error{
			Kind:    errs.BadGatewayConfig,
			Message: fmt.Sprintf("service %q is not configured", preq.Service),
			Service: preq.Service,
		}
	}

	url := target.BaseURL + preq.Path
	if preq.RawQuery != "" {
		url += "?" + preq.RawQuery
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	log := f.logger.With(
		zap.String("request_id", preq.RequestID),
		zap.String("service", preq.Service),
		zap.String("method", preq.Method),
		zap.String("url", url),
	)

	startTime := time.Now()
	var (
		resp     *http.Response
		err      error
		attempts int
	)
	for {
		attempts++
		req, rerr := http.NewRequestWithContext(ctx, preq.Method, url, bytes.NewReader(preq.Body))
		if rerr != nil {
			return nil, errs.Wrap(errs.Internal, "failed to create upstream request", rerr)
		}
		req.Header = preq.Header.Clone()

		resp, err = f.httpClient.Do(req)
		if err == nil {
			break
		}
		if attempts <= f.cfg.Retries && isConnRefused(err) && ctx.Err() == nil {
			log.Warn("upstream refused connection, retrying", zap.Int("attempt", attempts), zap.Error(err))
			continue
		}

		duration := time.Since(startTime)
		gerr := classifyTransportError(preq.Service, f.cfg.Timeout, err)
		f.metrics.RecordUpstream(preq.Service, outcome(gerr), duration)
		log.Warn("upstream request failed",
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, gerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(startTime)
	if err != nil {
		gerr := classifyTransportError(preq.Service, f.cfg.Timeout, err)
		f.metrics.RecordUpstream(preq.Service, outcome(gerr), duration)
		log.Warn("failed to read upstream response", zap.Error(err))
		return nil, gerr
	}

	f.metrics.RecordUpstream(preq.Service, "response", duration)
	log.Debug("upstream responded",
		zap.Int("status", resp.StatusCode),
		zap.Int("response_size", len(body)),
		zap.Duration("duration", duration),
	)

	return &models.ProxyResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     relayHeaders(resp.Header),
		Duration:   duration,
		Attempts:   attempts,
	}, nil
}

// WriteResponse relays resp to w verbatim, adding the correlation id.
func WriteResponse(w http.ResponseWriter, resp *models.ProxyResponse, requestID string) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if requestID != "" {
		w.Header().Set(HeaderRequestID, requestID)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func relayHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopHeaders {
		out.Del(name)
	}
	return out
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func classifyTransportError(service string, timeout time.Duration, err error) *errs.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &errs.Error{
			Kind:    errs.UpstreamTimeout,
			Message: fmt.Sprintf("service %s did not respond within %s", service, timeout),
			Service: service,
			Err:     err,
		}
	}
	return &errs.Error{
		Kind:    errs.UpstreamUnreachable,
		Message: fmt.Sprintf("service %s is unavailable", service),
		Service: service,
		Err:     err,
	}
}

func outcome(e *errs.Error) string {
	switch e.Kind {
	case errs.UpstreamTimeout:
		return "timeout"
	case errs.UpstreamUnreachable:
		return "unreachable"
	default:
		return "error"
	}
}
