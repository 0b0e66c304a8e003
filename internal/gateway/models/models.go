package models

import (
	"net/http"
	"net/textproto"
	"time"
)

type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
)

// Route is one entry of the gateway route table. Routes are immutable once
// the server starts.
type Route struct {
	Name       string     `yaml:"name" json:"name"`
	Methods    []string   `yaml:"methods" json:"methods,omitempty"`
	Path       string     `yaml:"path" json:"path"`
	Prefix     bool       `yaml:"prefix" json:"prefix,omitempty"`
	Service    string     `yaml:"service" json:"service,omitempty"`
	Visibility Visibility `yaml:"visibility" json:"visibility"`
	Roles      []string   `yaml:"roles" json:"roles,omitempty"`
	// UpstreamPrefix replaces Path (when Prefix is set) in the forwarded path.
	// Empty keeps the inbound path unchanged.
	UpstreamPrefix string `yaml:"upstream_prefix" json:"upstream_prefix,omitempty"`
	// FileField names the multipart field forwarded as the uploaded file.
	FileField string `yaml:"file_field" json:"file_field,omitempty"`
	// Local routes are served by the gateway itself (health, metrics).
	Local string `yaml:"local" json:"local,omitempty"`
}

func (r Route) IsPublic() bool {
	return r.Visibility == Public
}

// Identity is the caller identity extracted from a verified bearer token.
// It lives for one request and is never persisted.
type Identity struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	RefugioID string `json:"refugioId,omitempty"`
	Name      string `json:"name,omitempty"`
}

type ServiceTarget struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// FilePart is an uploaded file re-sent in a multipart proxy request.
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     []byte
}

// FormField is one non-file multipart field, kept in arrival order.
// Header holds the part's own MIME headers; a nil Header is sent as a plain
// text field.
type FormField struct {
	Name   string
	Value  string
	Header textproto.MIMEHeader
}

// ProxyRequest is the outbound request built for one forwarded call.
type ProxyRequest struct {
	Service   string
	Method    string
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
	RequestID string
}

type ProxyResponse struct {
	StatusCode int           `json:"status_code"`
	Body       []byte        `json:"-"`
	Header     http.Header   `json:"-"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
}

const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

// HealthProbeResult is the outcome of probing one backend.
type HealthProbeResult struct {
	Service   string        `json:"service"`
	URL       string        `json:"url"`
	Reachable bool          `json:"reachable"`
	Status    string        `json:"status"`
	Code      int           `json:"code,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (h HealthProbeResult) Healthy() bool {
	return h.Status == StatusHealthy
}
