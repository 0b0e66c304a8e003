package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	opts, err := ParseURL("redis://:pw@cache:6380/2")
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	assert.Nil(t, opts.TLSConfig)
}

func TestParseURL_TLSAndUsername(t *testing.T) {
	opts, err := ParseURL("rediss://gateway:pw@cache.internal:6380/0")
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "gateway", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache.internal", opts.TLSConfig.ServerName)
}

func TestParseURL_QueryOptions(t *testing.T) {
	opts, err := ParseURL("redis://cache:6379/1?dial_timeout=1s&pool_size=20")
	require.NoError(t, err)

	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.WriteTimeout)
}

func TestParseURL_Invalid(t *testing.T) {
	_, err := ParseURL("redis://cache:6379/notanumber")
	assert.Error(t, err)

	_, err = ParseURL("cache:6379")
	assert.Error(t, err)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "redis://localhost:6379"}.Enabled())
}
