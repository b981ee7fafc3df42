package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/auth"
	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/internal/metrics"
	"github.com/ulissesGimSolubio/auth-api/internal/ratelimit"
	"github.com/ulissesGimSolubio/auth-api/internal/user"
)

// AuthPath prefixes the session endpoints and scopes the refresh cookie.
const AuthPath = "/auth"

// Deps is everything RegisterRoutes mounts. Metrics, Limits and Ping are
// optional.
type Deps struct {
	Auth      *auth.Handler
	Users     *user.Handler
	Tokens    *auth.TokenIssuer
	Transport auth.Transport
	Limits    *ratelimit.Set
	Metrics   *metrics.Metrics
	Ping      func(ctx context.Context) error
	Config    config.Auth
	Logger    *zap.SugaredLogger
}

// RegisterRoutes builds the HTTP surface.
func RegisterRoutes(d Deps) http.Handler {
	if d.Limits == nil {
		d.Limits = &ratelimit.Set{}
	}
	limit := func(l ratelimit.Limiter) func(http.Handler) http.Handler {
		return ratelimit.Middleware(l, d.Logger)
	}
	requireAuth := auth.RequireAuth(d.Tokens, d.Transport)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(d.Metrics.Middleware)

	r.Get("/health", health(d.Ping, d.Logger))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(limit(d.Limits.General))

		r.Route(AuthPath, func(r chi.Router) {
			r.With(limit(d.Limits.Register)).Post("/register", d.Auth.Register)
			r.With(limit(d.Limits.Auth)).Post("/login", d.Auth.Login)
			r.With(limit(d.Limits.Auth)).Post("/verify-2fa", d.Auth.VerifyTwoFactor)
			r.Post("/refresh-token", d.Auth.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/logout", d.Auth.Logout)
				r.Post("/enable-2fa", d.Auth.EnableTwoFactor)
				r.Post("/confirm-2fa", d.Auth.ConfirmTwoFactor)
				r.Get("/me", d.Auth.Me)
				r.With(limit(d.Limits.Register), auth.RequireRoles(d.Config.InviteAllowedRoles...)).
					Post("/invites", d.Auth.SendInvite)
			})
		})

		r.Route("/password", func(r chi.Router) {
			r.With(limit(d.Limits.Auth)).Post("/forgot-password", d.Auth.ForgotPassword)
			r.Get("/reset-password/{token}", d.Auth.ValidateResetToken)
			r.With(limit(d.Limits.Auth)).Post("/reset-password/{token}", d.Auth.ResetPassword)
			r.With(requireAuth).Post("/change-password", d.Auth.ChangePassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRoles(d.Config.ViewerRoles...))
				r.Get("/", d.Users.List)
				r.Get("/{id}", d.Users.Get)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRoles(d.Config.AdminRoles...))
				r.Patch("/{id}/block", d.Users.Block())
				r.Patch("/{id}/unblock", d.Users.Unblock())
				r.Patch("/{id}/disable", d.Users.Disable())
				r.Patch("/{id}/enable", d.Users.Enable())
				r.Post("/{userId}/roles", d.Users.AssignRole)
				r.Delete("/{userId}/roles/{roleId}", d.Users.RemoveRole)
			})
		})
	})
	return r
}

func health(ping func(context.Context) error, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				logger.Warnw("health check failed", "err", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
