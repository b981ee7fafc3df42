package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more hit for key fits in the current window.
// When it does not, retryAfter is the time left until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// Policy is a fixed-window allowance: Max hits per Window per key.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}
