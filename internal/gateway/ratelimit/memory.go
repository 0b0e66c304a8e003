package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type window struct {
	start time.Time
	count int
}

type clientWindows struct {
	mu      sync.Mutex
	windows []window
}

// MemoryStore keeps per-client windows in a bounded LRU. A client idle for
// longer than the longest tier window is dropped, since all of its windows
// would have reset anyway. When more than maxClients are active the least
// recently seen client is evicted and starts over with fresh windows.
type MemoryStore struct {
	mu      sync.Mutex
	clients *expirable.LRU[string, *clientWindows]
}

func NewMemoryStore(maxClients int, idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		clients: expirable.NewLRU[string, *clientWindows](maxClients, nil, idleTTL),
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, tiers []Tier, now time.Time) (Decision, error) {
	s.mu.Lock()
	cw, ok := s.clients.Get(key)
	if !ok {
		cw = &clientWindows{}
	}
	// Re-adding refreshes the idle expiry.
	s.clients.Add(key, cw)
	s.mu.Unlock()

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if len(cw.windows) != len(tiers) {
		cw.windows = make([]window, len(tiers))
	}
	return evaluate(cw.windows, tiers, now), nil
}

// Len returns the number of tracked clients.
func (s *MemoryStore) Len() int {
	return s.clients.Len()
}

// evaluate applies one attempt to windows, which must be aligned with tiers.
// Elapsed windows are reset first; the attempt is then admitted only if
// every tier has room, and only then are the counters incremented.
func evaluate(windows []window, tiers []Tier, now time.Time) Decision {
	var rejected *Decision

	for i, t := range tiers {
		w := &windows[i]
		if !w.start.IsZero() && now.Sub(w.start) >= t.Window {
			*w = window{}
		}
		if w.count+1 <= t.Limit {
			continue
		}

		retry := t.Window
		if !w.start.IsZero() {
			retry = t.Window - now.Sub(w.start)
		}
		if rejected == nil || retry > rejected.RetryAfter {
			rejected = &Decision{Tier: t.Name, Limit: t.Limit, RetryAfter: retry}
		}
	}
	if rejected != nil {
		return *rejected
	}

	remaining := -1
	for i, t := range tiers {
		w := &windows[i]
		if w.start.IsZero() {
			w.start = now
		}
		w.count++
		if left := t.Limit - w.count; remaining < 0 || left < remaining {
			remaining = left
		}
	}
	return Decision{Allowed: true, Remaining: remaining}
}
