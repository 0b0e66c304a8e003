package processors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/pkg/events"
)

const (
	OverallOK       = "ok"
	OverallDegraded = "degraded"
)

type HealthConfig struct {
	// Path is appended to each backend base URL.
	Path    string
	Timeout time.Duration
}

// HealthAggregator probes every registered backend concurrently. A failing
// probe only marks its own entry.
type HealthAggregator struct {
	targets    []models.ServiceTarget
	cfg        HealthConfig
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector
	publisher  events.Publisher

	mu       sync.RWMutex
	last     map[string]models.HealthProbeResult
	stopChan chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func NewHealthAggregator(targets []models.ServiceTarget, cfg HealthConfig, logger *zap.Logger, m *metrics.Collector, publisher events.Publisher) *HealthAggregator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/health"
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &HealthAggregator{
		targets: targets,
		cfg:     cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    logger,
		metrics:   m,
		publisher: publisher,
		last:      make(map[string]models.HealthProbeResult, len(targets)),
		stopChan:  make(chan struct{}),
	}
}

// CheckAll probes all backends and returns one result per service.
func (h *HealthAggregator) CheckAll(ctx context.Context) map[string]models.HealthProbeResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]models.HealthProbeResult, len(h.targets))
	)

	for _, target := range h.targets {
		wg.Add(1)
		go func(t models.ServiceTarget) {
			defer wg.Done()
			res := h.probe(ctx, t)
			mu.Lock()
			results[t.Name] = res
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	healthy := 0
	for _, res := range results {
		if res.Healthy() {
			healthy++
		}
	}
	h.logger.Debug("health check completed",
		zap.Int("healthy_count", healthy),
		zap.Int("total_count", len(results)),
	)

	ev := events.Event{
		Type:    events.TypeHealth,
		Source:  "gateway",
		Message: fmt.Sprintf("health check completed: %d/%d services healthy", healthy, len(results)),
		Fields: map[string]interface{}{
			"healthy_count": healthy,
			"total_count":   len(results),
			"unhealthy":     unhealthyNames(results),
		},
	}
	if err := h.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		h.logger.Warn("failed to publish health event", zap.Error(err))
	}

	return results
}

// CheckOne probes a single backend. Unknown names yield a NotFound error.
func (h *HealthAggregator) CheckOne(ctx context.Context, name string) (models.HealthProbeResult, error) {
	for _, t := range h.targets {
		if t.Name == name {
			return h.probe(ctx, t), nil
		}
	}
	return models.HealthProbeResult{}, &errs.Error{
		Kind:    errs.NotFound,
		Message: fmt.Sprintf("service %s not found", name),
		Service: name,
	}
}

// Cached returns the most recent result recorded for every backend. The
// second value is false until every backend has been probed at least once.
func (h *HealthAggregator) Cached() (map[string]models.HealthProbeResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]models.HealthProbeResult, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out, len(out) == len(h.targets)
}

// Start runs CheckAll every interval until Stop is called.
func (h *HealthAggregator) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	h.done.Add(1)
	go func() {
		defer h.done.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.logger.Info("health checker started", zap.Duration("interval", interval))
		h.CheckAll(context.Background())

		for {
			select {
			case <-ticker.C:
				h.CheckAll(context.Background())
			case <-h.stopChan:
				h.logger.Info("health checker stopped")
				return
			}
		}
	}()
}

func (h *HealthAggregator) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.done.Wait()
}

func (h *HealthAggregator) probe(ctx context.Context, t models.ServiceTarget) models.HealthProbeResult {
	url := t.BaseURL + h.cfg.Path
	startTime := time.Now()

	result := models.HealthProbeResult{
		Service:   t.Name,
		URL:       url,
		Timestamp: startTime,
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = models.StatusUnreachable
		result.Error = err.Error()
		h.record(result)
		return result
	}
	req.Header.Set("X-Health-Check", "true")
	req.Header.Set(HeaderGateway, gatewayName)

	resp, err := h.httpClient.Do(req)
	result.Latency = time.Since(startTime)
	result.LatencyMS = result.Latency.Milliseconds()

	switch {
	case err != nil:
		result.Status = models.StatusUnreachable
		result.Error = err.Error()
	default:
		resp.Body.Close()
		result.Reachable = true
		result.Code = resp.StatusCode
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result.Status = models.StatusHealthy
		} else {
			result.Status = models.StatusUnhealthy
			result.Error = fmt.Sprintf("status code: %d", resp.StatusCode)
		}
	}

	h.record(result)
	return result
}

func (h *HealthAggregator) record(result models.HealthProbeResult) {
	h.mu.Lock()
	h.last[result.Service] = result
	h.mu.Unlock()

	h.metrics.SetBackendUp(result.Service, result.Healthy())
}

// Summarize returns OverallDegraded when any result is not healthy.
func Summarize(results map[string]models.HealthProbeResult) string {
	for _, res := range results {
		if !res.Healthy() {
			return OverallDegraded
		}
	}
	return OverallOK
}

func unhealthyNames(results map[string]models.HealthProbeResult) []string {
	var names []string
	for name, res := range results {
		if !res.Healthy() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
