package ratelimit

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

// Set holds the three per-IP policies the router applies.
type Set struct {
	General  Limiter
	Auth     Limiter
	Register Limiter

	client *redis.Client
}

// NewSet builds Redis-backed limiters when cfg.Addr is set and reachable,
// otherwise in-process ones. A disabled config yields a Set of nil limiters,
// which the middleware treats as pass-through.
func NewSet(ctx context.Context, rl config.RateLimit, cfg config.Redis, clock clockwork.Clock, logger *zap.SugaredLogger) *Set {
	if !rl.Enabled {
		return &Set{}
	}
	general := Policy{Name: "general", Max: rl.GeneralMax, Window: rl.GeneralWindow}
	auth := Policy{Name: "auth", Max: rl.AuthMax, Window: rl.AuthWindow}
	register := Policy{Name: "register", Max: rl.RegisterMax, Window: rl.RegisterWindow}

	if cfg.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			logger.Infow("rate limiting backed by redis", "addr", cfg.Addr)
			return &Set{
				General:  NewRedisLimiter(client, general, cfg.Prefix),
				Auth:     NewRedisLimiter(client, auth, cfg.Prefix),
				Register: NewRedisLimiter(client, register, cfg.Prefix),
				client:   client,
			}
		}
		logger.Warnw("redis unreachable, using in-process rate limiting", "addr", cfg.Addr, "err", err)
		_ = client.Close()
	}
	return &Set{
		General:  NewMemoryLimiter(general, clock),
		Auth:     NewMemoryLimiter(auth, clock),
		Register: NewMemoryLimiter(register, clock),
	}
}

// Close releases the Redis client, if any.
func (s *Set) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
