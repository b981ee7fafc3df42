// Package app wires configuration, storage and HTTP handlers together for
// the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/auth"
	authrepo "github.com/ulissesGimSolubio/auth-api/internal/auth/repo"
	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/internal/mailer"
	"github.com/ulissesGimSolubio/auth-api/internal/metrics"
	"github.com/ulissesGimSolubio/auth-api/internal/ratelimit"
	"github.com/ulissesGimSolubio/auth-api/internal/router"
	"github.com/ulissesGimSolubio/auth-api/internal/user"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

// Repos groups every table owner.
type Repos struct {
	Users    *userrepo.UserRepo
	Attempts *userrepo.AttemptRepo
	Refresh  *authrepo.RefreshRepo
	Resets   *authrepo.ResetRepo
	Invites  *authrepo.InviteRepo
}

func NewRepos(db *sqlx.DB, ids *utilities.IDGenerator) Repos {
	return Repos{
		Users:    userrepo.NewUserRepo(db, ids),
		Attempts: userrepo.NewAttemptRepo(db),
		Refresh:  authrepo.NewRefreshRepo(db),
		Resets:   authrepo.NewResetRepo(db),
		Invites:  authrepo.NewInviteRepo(db),
	}
}

type tableOwner interface {
	EnsureTable(ctx context.Context) error
}

// Migrate creates missing tables. Users come first since every other table
// references them.
func (r Repos) Migrate(ctx context.Context) error {
	steps := []struct {
		name  string
		owner tableOwner
	}{
		{"users", r.Users},
		{"login_attempts", r.Attempts},
		{"refresh_tokens", r.Refresh},
		{"password_reset_tokens", r.Resets},
		{"invites", r.Invites},
	}
	for _, s := range steps {
		if err := s.owner.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure %s: %w", s.name, err)
		}
	}
	return nil
}

// Server is the assembled HTTP application.
type Server struct {
	Handler http.Handler
	limits  *ratelimit.Set
}

// Close releases background resources such as the Redis client.
func (s *Server) Close() error {
	return s.limits.Close()
}

// NewServer builds every component from cfg on top of db.
func NewServer(ctx context.Context, cfg config.Config, db *sqlx.DB, logger *zap.SugaredLogger) (*Server, error) {
	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, err
	}
	repos := NewRepos(db, ids)
	if cfg.AutoMigrate {
		if err := repos.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("schema migrated")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = metrics.New(reg); err != nil {
			return nil, err
		}
	}

	clock := clockwork.NewRealClock()
	tokens := auth.NewTokenIssuer(cfg.JWT, clock)
	svc := auth.NewService(auth.Deps{
		Users:    repos.Users,
		Attempts: repos.Attempts,
		Refresh:  repos.Refresh,
		Resets:   repos.Resets,
		Invites:  repos.Invites,
		Mailer:   mailer.New(cfg.SMTP, cfg.IsDevelopment(), logger),
		Tokens:   tokens,
		Hasher:   auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		Metrics:  m,
		Clock:    clock,
		Logger:   logger,
		Config:   cfg.Auth,
	})
	transport := auth.NewTransport(cfg.Auth, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, router.AuthPath)
	admin := user.NewUserService(repos.Users, repos.Attempts, svc, logger)
	limits := ratelimit.NewSet(ctx, cfg.RateLimit, cfg.Redis, clock, logger)

	h := router.RegisterRoutes(router.Deps{
		Auth:      auth.NewHandler(svc, transport, logger),
		Users:     user.NewHandler(admin, logger),
		Tokens:    tokens,
		Transport: transport,
		Limits:    limits,
		Metrics:   m,
		Ping:      db.PingContext,
		Config:    cfg.Auth,
		Logger:    logger,
	})
	return &Server{Handler: h, limits: limits}, nil
}
