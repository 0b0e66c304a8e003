// Package ratelimit enforces fixed-window request caps per client.
//
// Several tiers (for example 10 requests per second, 50 per 10 seconds and
// 100 per minute) apply to every client at once. A request is admitted only
// when it fits within every tier. Each tier's window opens at the first hit
// and resets to zero once its duration has elapsed; windows do not slide.
//
// Counters live in a Store. MemoryStore keeps them in process and is the
// default; RedisStore shares them between gateway instances. Counters are
// never persisted across restarts of the store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/quirck3n/refugio-gateway/internal/gateway/config"
)

// Tier is one (window, limit) pair applied to every client.
type Tier struct {
	Name   string
	Window time.Duration
	Limit  int
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed bool
	// Tier names the violated tier when Allowed is false.
	Tier string
	// Limit is the violated tier's max count.
	Limit int
	// Remaining is the smallest number of requests still available across
	// tiers after an admitted request.
	Remaining int
	// RetryAfter is the time until the violated tier's window resets.
	RetryAfter time.Duration
}

// Store performs the check-and-increment for all tiers of one client as a
// single atomic step. A rejected attempt does not consume quota in any tier.
type Store interface {
	Hit(ctx context.Context, key string, tiers []Tier, now time.Time) (Decision, error)
}

type Limiter struct {
	tiers []Tier
	store Store
	now   func() time.Time
}

// NewLimiter creates a limiter over the given tiers and counter store.
func NewLimiter(tiers []Tier, store Store) *Limiter {
	return &Limiter{
		tiers: tiers,
		store: store,
		now:   time.Now,
	}
}

// TiersFromConfig converts configured tiers.
func TiersFromConfig(cfg config.RateLimitConfig) []Tier {
	tiers := make([]Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, Tier{Name: t.Name, Window: t.TTL, Limit: t.Limit})
	}
	return tiers
}

// Admit records one request attempt for key.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	d, err := l.store.Hit(ctx, key, l.tiers, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	return d, nil
}

// LongestWindow is how long a client's counters can matter after its last hit.
func LongestWindow(tiers []Tier) time.Duration {
	var longest time.Duration
	for _, t := range tiers {
		if t.Window > longest {
			longest = t.Window
		}
	}
	return longest
}
