package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 0, cfg.Upstream.Retries)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Equal(t, int64(32<<20), cfg.Server.MaxBodySize)

	require.Len(t, cfg.RateLimit.Tiers, 3)
	assert.Equal(t, Tier{Name: "short", TTL: time.Second, Limit: 10}, cfg.RateLimit.Tiers[0])
	assert.Equal(t, Tier{Name: "medium", TTL: 10 * time.Second, Limit: 50}, cfg.RateLimit.Tiers[1])
	assert.Equal(t, Tier{Name: "long", TTL: time.Minute, Limit: 100}, cfg.RateLimit.Tiers[2])

	for _, name := range []string{ServiceCore, ServiceGraphQL, ServicePayments, ServiceAuth, ServiceChat} {
		assert.Contains(t, cfg.Services.Registry, name)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PAYMENTS_SERVICE_URL", "http://payments:8080/")
	t.Setenv("RATE_LIMIT_SHORT_LIMIT", "3")
	t.Setenv("RATE_LIMIT_LONG_TTL", "120000")
	t.Setenv("UPSTREAM_TIMEOUT", "2s")
	t.Setenv("MAX_BODY_SIZE", "1024")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://payments:8080", cfg.Services.Registry[ServicePayments].URL)
	assert.Equal(t, 3, cfg.RateLimit.Tiers[0].Limit)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Tiers[2].TTL)
	assert.Equal(t, 2*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, int64(1024), cfg.Server.MaxBodySize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: "3000"},
		RateLimit: RateLimitConfig{Store: "redis", Tiers: []Tier{{Name: "short", TTL: 0, Limit: 1}}},
		Upstream:  UpstreamConfig{Timeout: time.Second},
		Health:    HealthConfig{Timeout: time.Second},
		Services: ServicesConfig{Registry: map[string]ServiceInfo{
			"core": {URL: "not a url"},
		}},
	}

	err := cfg.Validate()
	require.Error(t, err)
	// missing secret, bad url, bad tier, redis without url
	assert.Len(t, multierr.Errors(err), 4)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_SHORT_LIMIT", "ten")
	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	t.Setenv("MAX_BODY_SIZE", "1MB")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Len(t, multierr.Errors(err), 3)
	assert.ErrorContains(t, err, `RATE_LIMIT_SHORT_LIMIT: invalid integer "ten"`)
	assert.ErrorContains(t, err, `UPSTREAM_TIMEOUT: invalid duration "soon"`)
	assert.ErrorContains(t, err, `MAX_BODY_SIZE: invalid integer "1MB"`)
}

func TestLoad_UpstreamTimeoutMustFitWriteTimeout(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("UPSTREAM_TIMEOUT", "40s")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "must be shorter than SERVER_WRITE_TIMEOUT")

	t.Setenv("SERVER_WRITE_TIMEOUT", "45")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, cfg.Upstream.Timeout)
}

func TestValidate_NegativeBodySize(t *testing.T) {
	cfg := &Config{
		Auth:      AuthConfig{JWTSecret: "s"},
		Server:    ServerConfig{Port: "3000", MaxBodySize: -1},
		RateLimit: RateLimitConfig{Store: "memory", Tiers: []Tier{{Name: "short", TTL: time.Second, Limit: 1}}},
		Upstream:  UpstreamConfig{Timeout: time.Second},
		Health:    HealthConfig{Timeout: time.Second},
	}
	assert.ErrorContains(t, cfg.Validate(), "MAX_BODY_SIZE")
}
