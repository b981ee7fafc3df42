package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

func TestRedisLimiterWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, Policy{Name: "auth", Max: 2, Window: 500 * time.Millisecond}, "test:")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, retryAfter, err := lim.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.True(t, s.Exists("test:auth:1.2.3.4"))

	// other keys are counted separately
	allowed, _, err = lim.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)

	s.FastForward(600 * time.Millisecond)
	allowed, _, err = lim.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiterRejectsZeroWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	_, _, err := NewRedisLimiter(client, Policy{Name: "x", Max: 1}, "").Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryLimiterWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	lim := NewMemoryLimiter(Policy{Name: "register", Max: 2, Window: time.Minute}, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "ip")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, retry, err := lim.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retry)

	clock.Advance(time.Minute)
	allowed, _, err = lim.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, allowed)
}

type stubLimiter struct {
	allowed bool
	retry   time.Duration
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.retry, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	stub := &stubLimiter{allowed: false, retry: 1500 * time.Millisecond}
	h := Middleware(stub, zap.NewNop().Sugar())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too_many_requests","message":"too many requests, try again later"}`, rec.Body.String())
	assert.Equal(t, []string{"10.1.2.3"}, stub.keys)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	h := Middleware(&stubLimiter{err: errors.New("redis down")}, zap.NewNop().Sugar())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, zap.NewNop().Sugar())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewSetPicksBackend(t *testing.T) {
	rl := config.RateLimit{Enabled: true, GeneralMax: 100, GeneralWindow: 15 * time.Minute,
		AuthMax: 20, AuthWindow: 15 * time.Minute, RegisterMax: 3, RegisterWindow: time.Hour}
	logger := zap.NewNop().Sugar()
	ctx := context.Background()

	mem := NewSet(ctx, rl, config.Redis{}, clockwork.NewRealClock(), logger)
	assert.IsType(t, &MemoryLimiter{}, mem.Auth)
	require.NoError(t, mem.Close())

	s := miniredis.RunT(t)
	red := NewSet(ctx, rl, config.Redis{Addr: s.Addr(), Prefix: "t:"}, clockwork.NewRealClock(), logger)
	assert.IsType(t, &RedisLimiter{}, red.Register)
	require.NoError(t, red.Close())

	off := NewSet(ctx, config.RateLimit{}, config.Redis{}, nil, logger)
	assert.Nil(t, off.General)
}
