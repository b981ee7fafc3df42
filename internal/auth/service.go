package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	authentity "github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/internal/mailer"
	"github.com/ulissesGimSolubio/auth-api/internal/metrics"
	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

// UserDirectory is the subset of the user store the flows need. Lookups
// return userrepo.ErrNotFound for unknown users.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) (int64, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateTwoFactor(ctx context.Context, id int64, secret *string, enabled bool) error
	AssignRoleByName(ctx context.Context, userID int64, role string) error
}

// RefreshStore persists refresh sessions. Revoke returns rows changed.
type RefreshStore interface {
	Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	FindActive(ctx context.Context, token string) (*authentity.RefreshToken, error)
	Revoke(ctx context.Context, token string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

type ResetStore interface {
	Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	Find(ctx context.Context, token string) (*authentity.PasswordResetToken, error)
	Consume(ctx context.Context, token string, now time.Time) (int64, error)
	DeleteForUser(ctx context.Context, userID int64) error
}

type InviteStore interface {
	Upsert(ctx context.Context, inv *authentity.Invite) error
	FindByToken(ctx context.Context, token string) (*authentity.Invite, error)
	MarkUsed(ctx context.Context, id int64) error
}

// Deps wires the Service. Clock, Hasher, Metrics and Logger are optional.
type Deps struct {
	Users    UserDirectory
	Attempts AttemptStore
	Refresh  RefreshStore
	Resets   ResetStore
	Invites  InviteStore
	Mailer   mailer.Sender
	Tokens   *TokenIssuer
	Hasher   PasswordHasher
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
	Logger   *zap.SugaredLogger
	Config   config.Auth
}

// Service orchestrates registration, login, token lifecycle, second factor,
// password recovery and invites.
type Service struct {
	users    UserDirectory
	refresh  RefreshStore
	resets   ResetStore
	invites  InviteStore
	mail     mailer.Sender
	tokens   *TokenIssuer
	hasher   PasswordHasher
	totp     *TOTP
	throttle *Throttle
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	cfg      config.Auth
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Hasher == nil {
		d.Hasher = BcryptHasher{Cost: d.Config.BcryptCost}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Mailer == nil {
		d.Mailer = mailer.NewLogSender(d.Logger)
	}
	return &Service{
		users:    d.Users,
		refresh:  d.Refresh,
		resets:   d.Resets,
		invites:  d.Invites,
		mail:     d.Mailer,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		totp:     NewTOTP(d.Config.TOTPIssuer, d.Clock),
		throttle: NewThrottle(d.Attempts, d.Config.MaxFailedAttempts, d.Config.FailureWindow, d.Clock),
		metrics:  d.Metrics,
		clock:    d.Clock,
		logger:   d.Logger,
		cfg:      d.Config,
	}
}

// Tokens exposes the issuer to the HTTP layer for access-token checks.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Session is the outcome of a completed authentication.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         entity.PublicUser
}

// LoginResult either carries a Session or asks for the second factor.
type LoginResult struct {
	TwoFactorRequired bool
	UserID            int64
	Session           *Session
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// lookupByEmail maps the directory's not-found to nil, nil.
func (s *Service) lookupByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, userrepo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

// accountState rejects blocked and inactive accounts.
func accountState(u *entity.User) error {
	if u.Blocked {
		return ErrAccountBlocked
	}
	if !u.Active {
		return ErrAccountDisabled
	}
	return nil
}

// openSession issues an access and a refresh token and persists the latter.
func (s *Service) openSession(ctx context.Context, u *entity.User) (*Session, error) {
	access, err := s.tokens.IssueAccess(u.ID, u.Roles)
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.tokens.IssueRefresh(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Create(ctx, u.ID, refresh, exp); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	s.metrics.TokenIssued("access")
	s.metrics.TokenIssued("refresh")
	return &Session{AccessToken: access, RefreshToken: refresh, User: u.Public()}, nil
}

// revokeSessions ends every refresh session of the user. Failures are logged,
// not returned.
func (s *Service) revokeSessions(ctx context.Context, userID int64, reason string) {
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Errorw("revoke refresh tokens failed", "user_id", userID, "reason", reason, "err", err)
		return
	}
	s.logger.Infow("refresh tokens revoked", "user_id", userID, "reason", reason, "count", n)
}

// RevokeSessions lets account administration end a user's sessions.
func (s *Service) RevokeSessions(ctx context.Context, userID int64, reason string) {
	s.revokeSessions(ctx, userID, reason)
}

func (s *Service) send(ctx context.Context, kind string, msg mailer.Message, buildErr error) {
	if buildErr != nil {
		s.logger.Errorw("build mail failed", "kind", kind, "err", buildErr)
		return
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Errorw("send mail failed", "kind", kind, "to", msg.To, "err", err)
	}
}
