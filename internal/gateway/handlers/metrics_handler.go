package handlers

import (
	"net/http"

	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/pipeline"
)

type MetricsHandler struct {
	exposition http.Handler
}

func NewMetricsHandler(collector *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{exposition: collector.Handler()}
}

// Metrics serves the Prometheus exposition.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, pc *pipeline.Context) error {
	h.exposition.ServeHTTP(w, pc.Request)
	return nil
}
