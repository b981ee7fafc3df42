package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
)

// MemoryLimiter counts hits in a process-local go-cache. Each key+window
// pair is its own cache item and expires with the window.
type MemoryLimiter struct {
	policy Policy
	clock  clockwork.Clock
	items  *cache.Cache
}

func NewMemoryLimiter(p Policy, clock clockwork.Clock) *MemoryLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		policy: p,
		clock:  clock,
		items:  cache.New(p.Window, 2*p.Window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.clock.Now()
	start := now.Truncate(l.policy.Window)
	reset := start.Add(l.policy.Window)
	k := key + "@" + strconv.FormatInt(start.UnixNano(), 10)

	count, err := l.hit(k, reset.Sub(now))
	if err != nil {
		return false, 0, err
	}
	if count > int64(l.policy.Max) {
		return false, reset.Sub(now), nil
	}
	return true, 0, nil
}

func (l *MemoryLimiter) hit(k string, ttl time.Duration) (int64, error) {
	for i := 0; i < 2; i++ {
		if err := l.items.Add(k, int64(1), ttl); err == nil {
			return 1, nil
		}
		n, err := l.items.IncrementInt64(k, 1)
		if err == nil {
			return n, nil
		}
		// the item expired between Add and Increment; start it again
	}
	return l.items.IncrementInt64(k, 1)
}
