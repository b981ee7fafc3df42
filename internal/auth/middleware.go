package auth

import (
	"context"
	"net/http"

	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
)

type ctxKey int

const claimsKey ctxKey = iota

// WithClaims stores verified access claims on the context.
func WithClaims(ctx context.Context, c *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom returns the claims set by RequireAuth.
func ClaimsFrom(ctx context.Context) (*AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*AccessClaims)
	return c, ok && c != nil
}

// RequireAuth rejects requests without a valid access token. Roles are
// taken from the token as issued.
func RequireAuth(tokens *TokenIssuer, transport Transport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := transport.AccessToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing_token", "access token not provided")
				return
			}
			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRoles admits only callers holding one of roles. It must run after
// RequireAuth.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token", "access token not provided")
				return
			}
			if !entity.HasAnyRole(claims.Roles, roles) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
