package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector(nil)

	c.RecordRequest("api", "GET", 200, 10*time.Millisecond)
	c.RecordRequest("api", "GET", 200, 20*time.Millisecond)
	c.RecordRateLimited("short")
	c.RecordUpstream("core", "timeout", 30*time.Second)
	c.SetBackendUp("core", false)
	c.SetBackendUp("payments", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("api", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimitedTotal.WithLabelValues("short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamTotal.WithLabelValues("core", "timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.backendUp.WithLabelValues("core")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendUp.WithLabelValues("payments")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRateLimited("long")

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gateway_rate_limited_total{tier="long"} 1`)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordRequest("api", "GET", 200, time.Millisecond)
		c.RecordRateLimited("short")
		c.RecordUpstream("core", "response", time.Millisecond)
		c.SetBackendUp("core", true)
	})
}
