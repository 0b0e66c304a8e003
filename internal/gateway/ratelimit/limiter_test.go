package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quirck3n/refugio-gateway/internal/gateway/config"
)

var defaultTiers = []Tier{
	{Name: "short", Window: time.Second, Limit: 10},
	{Name: "medium", Window: 10 * time.Second, Limit: 50},
	{Name: "long", Window: time.Minute, Limit: 100},
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(tiers []Tier) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := NewLimiter(tiers, NewMemoryStore(1000, LongestWindow(tiers)))
	l.now = clock.Now
	return l, clock
}

func TestLimiter_ShortTier(t *testing.T) {
	l, clock := newTestLimiter(defaultTiers)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Admit(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
	}

	clock.Advance(300 * time.Millisecond)
	d, err := l.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "short", d.Tier)
	assert.Equal(t, 10, d.Limit)
	assert.LessOrEqual(t, d.RetryAfter, time.Second)
	assert.Equal(t, 700*time.Millisecond, d.RetryAfter)

	// First request once the window has elapsed is admitted.
	clock.Advance(700 * time.Millisecond)
	d, err = l.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(defaultTiers)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = l.Admit(ctx, "a")
	}
	d, _ := l.Admit(ctx, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Admit(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestLimiter_MediumTier(t *testing.T) {
	l, clock := newTestLimiter(defaultTiers)
	ctx := context.Background()

	// 10 per second for 5 seconds fills the medium tier without tripping short.
	for s := 0; s < 5; s++ {
		for i := 0; i < 10; i++ {
			d, err := l.Admit(ctx, "k")
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}
		clock.Advance(time.Second)
	}

	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "medium", d.Tier)
	assert.Equal(t, 5*time.Second, d.RetryAfter)
}

func TestLimiter_RejectedAttemptsDoNotConsumeQuota(t *testing.T) {
	tiers := []Tier{
		{Name: "short", Window: time.Second, Limit: 2},
		{Name: "long", Window: time.Minute, Limit: 5},
	}
	l, clock := newTestLimiter(tiers)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := l.Admit(ctx, "k")
		require.True(t, d.Allowed)
	}
	for i := 0; i < 20; i++ {
		d, _ := l.Admit(ctx, "k")
		require.False(t, d.Allowed)
	}

	// Long tier has only seen the two admitted requests: three more fit.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		d, _ := l.Admit(ctx, "k")
		require.True(t, d.Allowed, "request after window %d", i+1)
	}
}

func TestLimiter_ReportsLongestRetryAcrossViolatedTiers(t *testing.T) {
	tiers := []Tier{
		{Name: "short", Window: time.Second, Limit: 1},
		{Name: "long", Window: time.Minute, Limit: 1},
	}
	l, _ := newTestLimiter(tiers)
	ctx := context.Background()

	d, _ := l.Admit(ctx, "k")
	require.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, _ = l.Admit(ctx, "k")
	require.False(t, d.Allowed)
	assert.Equal(t, "long", d.Tier)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestLimiter_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	tiers := []Tier{{Name: "short", Window: time.Hour, Limit: 50}}
	l, _ := newTestLimiter(tiers)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := l.Admit(ctx, "shared"); err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, []Tier, time.Time) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func TestLimiter_StoreError(t *testing.T) {
	l := NewLimiter(defaultTiers, failingStore{})
	_, err := l.Admit(context.Background(), "k")
	assert.ErrorContains(t, err, "rate limit store")
}

func TestTiersFromConfig(t *testing.T) {
	tiers := TiersFromConfig(config.RateLimitConfig{Tiers: []config.Tier{
		{Name: "short", TTL: time.Second, Limit: 10},
		{Name: "long", TTL: time.Minute, Limit: 100},
	}})

	assert.Equal(t, []Tier{
		{Name: "short", Window: time.Second, Limit: 10},
		{Name: "long", Window: time.Minute, Limit: 100},
	}, tiers)
	assert.Equal(t, time.Minute, LongestWindow(tiers))
}

func TestMemoryStore_EvictsIdleClients(t *testing.T) {
	store := NewMemoryStore(2, time.Hour)
	now := time.Now()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Hit(ctx, key, defaultTiers, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Len())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(addr)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, "test-ratelimit-"+uuid.NewString())
	tiers := []Tier{
		{Name: "short", Window: time.Second, Limit: 3},
		{Name: "long", Window: time.Minute, Limit: 100},
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := store.Hit(ctx, "10.0.0.9", tiers, time.Now())
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := store.Hit(ctx, "10.0.0.9", tiers, time.Now())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "short", d.Tier)
	assert.LessOrEqual(t, d.RetryAfter, time.Second)

	time.Sleep(d.RetryAfter + 50*time.Millisecond)
	d, err = store.Hit(ctx, "10.0.0.9", tiers, time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
