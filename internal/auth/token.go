package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

// AccessClaims carry the user id and a snapshot of the roles at issuance.
type AccessClaims struct {
	UserID int64    `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// RefreshClaims carry only the user id.
type RefreshClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access and refresh tokens with two
// independent secrets.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         clockwork.Clock
}

func NewTokenIssuer(cfg config.JWT, clock clockwork.Clock) *TokenIssuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		clock:         clock,
	}
}

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

func (t *TokenIssuer) registered(userID int64, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := t.clock.Now().UTC()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        utilities.NewKSUID(),
	}, exp
}

// IssueAccess signs an access token for the user and roles.
func (t *TokenIssuer) IssueAccess(userID int64, roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	rc, _ := t.registered(userID, t.accessTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{UserID: userID, Roles: roles, RegisteredClaims: rc})
	s, err := tok.SignedString(t.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return s, nil
}

// IssueRefresh signs a refresh token and returns its expiry for persistence.
func (t *TokenIssuer) IssueRefresh(userID int64) (string, time.Time, error) {
	rc, exp := t.registered(userID, t.refreshTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &RefreshClaims{UserID: userID, RegisteredClaims: rc})
	s, err := tok.SignedString(t.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return s, exp, nil
}

func (t *TokenIssuer) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	}
}

// VerifyAccess returns the claims of a valid access token or ErrInvalidToken.
func (t *TokenIssuer) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.accessSecret, nil
	}, t.parserOptions()...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyRefresh returns the claims of a valid refresh token or ErrInvalidToken.
func (t *TokenIssuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.refreshSecret, nil
	}, t.parserOptions()...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
