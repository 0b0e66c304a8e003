package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/pipeline"
	"github.com/quirck3n/refugio-gateway/internal/gateway/processors"
	"github.com/quirck3n/refugio-gateway/pkg/response"
)

type HealthHandler struct {
	health  *processors.HealthAggregator
	version string
	started time.Time
}

func NewHealthHandler(health *processors.HealthAggregator, version string) *HealthHandler {
	return &HealthHandler{
		health:  health,
		version: version,
		started: time.Now(),
	}
}

type gatewayStatus struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type aggregateStatus struct {
	Status    string                              `json:"status"`
	Services  map[string]models.HealthProbeResult `json:"services"`
	Timestamp time.Time                           `json:"timestamp"`
}

// Health reports the gateway's own liveness without probing backends.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *pipeline.Context) error {
	response.JSON(w, http.StatusOK, gatewayStatus{
		Status:        processors.OverallOK,
		Service:       "api-gateway",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

// All probes every backend. A degraded result answers 503 but still lists
// every service, healthy ones included. With ?cached=1 the last recorded
// results are served instead, as long as every backend has one.
func (h *HealthHandler) All(w http.ResponseWriter, pc *pipeline.Context) error {
	results, complete := h.health.Cached()
	if pc.Request.URL.Query().Get("cached") == "" || !complete {
		results = h.health.CheckAll(pc.Request.Context())
	}
	overall := processors.Summarize(results)

	status := http.StatusOK
	if overall != processors.OverallOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, aggregateStatus{
		Status:    overall,
		Services:  results,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Service probes the backend named by the {service} path variable.
func (h *HealthHandler) Service(w http.ResponseWriter, pc *pipeline.Context) error {
	name := mux.Vars(pc.Request)["service"]

	result, err := h.health.CheckOne(pc.Request.Context(), name)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if !result.Healthy() {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, result)
	return nil
}
