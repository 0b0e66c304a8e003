package processors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/pkg/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func healthyBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Header.Get("X-Health-Check") != "true" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckAll_OneBackendDown(t *testing.T) {
	core := healthyBackend(t)
	payments := healthyBackend(t)

	m := metrics.NewCollector(nil)
	pub := &recordingPublisher{}
	h := NewHealthAggregator([]models.ServiceTarget{
		{Name: "core", BaseURL: core.URL},
		{Name: "payments", BaseURL: payments.URL},
		{Name: "chat", BaseURL: closedURL(t)},
	}, HealthConfig{Path: "/health", Timeout: time.Second}, zap.NewNop(), m, pub)

	results := h.CheckAll(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, models.StatusHealthy, results["core"].Status)
	assert.Equal(t, models.StatusHealthy, results["payments"].Status)
	assert.True(t, results["core"].Reachable)
	assert.Equal(t, http.StatusOK, results["core"].Code)

	assert.Equal(t, models.StatusUnreachable, results["chat"].Status)
	assert.False(t, results["chat"].Reachable)
	assert.NotEmpty(t, results["chat"].Error)

	assert.Equal(t, OverallDegraded, Summarize(results))
	assert.Equal(t, 1, pub.count())
	cached, complete := h.Cached()
	assert.True(t, complete)
	assert.Len(t, cached, 3)
}

func TestCheckAll_SlowBackendDoesNotBlockOthers(t *testing.T) {
	core := healthyBackend(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	h := NewHealthAggregator([]models.ServiceTarget{
		{Name: "core", BaseURL: core.URL},
		{Name: "graphql", BaseURL: slow.URL},
	}, HealthConfig{Timeout: 100 * time.Millisecond}, zap.NewNop(), nil, nil)

	start := time.Now()
	results := h.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, results["core"].Healthy())
	assert.Equal(t, models.StatusUnreachable, results["graphql"].Status)
}

func TestCheckOne(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	m := metrics.NewCollector(nil)
	h := NewHealthAggregator([]models.ServiceTarget{
		{Name: "auth", BaseURL: bad.URL},
	}, HealthConfig{}, zap.NewNop(), m, nil)

	res, err := h.CheckOne(context.Background(), "auth")
	require.NoError(t, err)
	assert.True(t, res.Reachable)
	assert.Equal(t, models.StatusUnhealthy, res.Status)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, bad.URL+"/health", res.URL)

	_, complete := h.Cached()
	assert.True(t, complete)

	_, err = h.CheckOne(context.Background(), "billing")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, OverallOK, Summarize(map[string]models.HealthProbeResult{
		"core": {Status: models.StatusHealthy},
	}))
	assert.Equal(t, OverallOK, Summarize(nil))
	assert.Equal(t, OverallDegraded, Summarize(map[string]models.HealthProbeResult{
		"core": {Status: models.StatusHealthy},
		"chat": {Status: models.StatusUnhealthy},
	}))
}

func TestHealthAggregator_StartStop(t *testing.T) {
	core := healthyBackend(t)
	pub := &recordingPublisher{}
	m := metrics.NewCollector(nil)

	h := NewHealthAggregator([]models.ServiceTarget{{Name: "core", BaseURL: core.URL}},
		HealthConfig{Timeout: time.Second}, zap.NewNop(), m, pub)

	h.Start(20 * time.Millisecond)
	require.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	h.Stop()
	h.Stop()

	n := pub.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, pub.count())

	cached, complete := h.Cached()
	require.True(t, complete)
	assert.True(t, cached["core"].Healthy())
	assert.Contains(t, scrape(t, m), `gateway_backend_up{service="core"} 1`)
}

func scrape(t *testing.T, m *metrics.Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}
