package handlers

import (
	"net/http"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/pipeline"
	"github.com/quirck3n/refugio-gateway/internal/gateway/processors"
	"github.com/quirck3n/refugio-gateway/internal/gateway/routes"
)

type GatewayHandler struct {
	forwarder   *processors.Forwarder
	maxBodySize int64
}

// NewGatewayHandler returns a proxy handler. Request bodies larger than
// maxBodySize are refused with 413; zero disables the cap.
func NewGatewayHandler(forwarder *processors.Forwarder, maxBodySize int64) *GatewayHandler {
	return &GatewayHandler{
		forwarder:   forwarder,
		maxBodySize: maxBodySize,
	}
}

// Proxy forwards the request to the route's backend and relays the answer.
// Multipart bodies on routes with a file field are rebuilt from their parts;
// every other body is sent as received.
func (h *GatewayHandler) Proxy(w http.ResponseWriter, pc *pipeline.Context) error {
	r := pc.Request
	if h.maxBodySize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	ctx := r.Context()
	path := routes.UpstreamPath(pc.Route, r.URL.EscapedPath())

	var (
		resp *models.ProxyResponse
		err  error
	)
	if pc.Route.FileField != "" && processors.IsMultipart(r) {
		fields, file, rerr := processors.ReadMultipart(r, pc.Route.FileField)
		if rerr != nil {
			return rerr
		}
		resp, err = h.forwarder.ForwardMultipart(ctx, pc.Route.Service, path, r, fields, file)
	} else {
		resp, err = h.forwarder.Forward(ctx, pc.Route.Service, path, r)
	}
	if err != nil {
		return err
	}

	processors.WriteResponse(w, resp, pc.RequestID)
	return nil
}
