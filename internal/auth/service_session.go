package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	authentity "github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
	authrepo "github.com/ulissesGimSolubio/auth-api/internal/auth/repo"
	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	InviteToken string
}

// Register creates an active account without 2FA and returns its id. When
// invites are required, or a token is supplied, the invite is checked first
// and consumed after the account exists.
func (s *Service) Register(ctx context.Context, in RegisterInput) (int64, error) {
	email := normalizeEmail(in.Email)

	var inv *authentity.Invite
	if s.cfg.InviteRequired || in.InviteToken != "" {
		var err error
		if inv, err = s.checkInvite(ctx, in.InviteToken, email); err != nil {
			return 0, err
		}
	}

	existing, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.users.Create(ctx, &entity.User{
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		Active:       true,
	})
	if errors.Is(err, userrepo.ErrEmailExists) {
		return 0, ErrEmailTaken
	}
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}

	if s.cfg.DefaultRole != "" {
		if err := s.users.AssignRoleByName(ctx, id, s.cfg.DefaultRole); err != nil {
			s.logger.Warnw("assign default role failed", "user_id", id, "role", s.cfg.DefaultRole, "err", err)
		}
	}
	if inv != nil {
		if err := s.invites.MarkUsed(ctx, inv.ID); err != nil {
			return 0, fmt.Errorf("mark invite used: %w", err)
		}
	}
	s.logger.Infow("user registered", "user_id", id, "invited", inv != nil)
	return id, nil
}

func (s *Service) checkInvite(ctx context.Context, token, email string) (*authentity.Invite, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, ErrInviteNotFound
	}
	inv, err := s.invites.FindByToken(ctx, id.String())
	if errors.Is(err, authrepo.ErrNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invite: %w", err)
	}
	switch {
	case inv.Used:
		return nil, ErrInviteAlreadyUsed
	case normalizeEmail(inv.Email) != email:
		return nil, ErrInviteEmailMismatch
	case !inv.ExpiresAt.After(s.clock.Now()):
		return nil, ErrInviteExpired
	}
	return inv, nil
}

type LoginInput struct {
	Email    string
	Password string
	IP       string
}

// Login checks credentials under the failed-attempt throttle. Unknown e-mails
// are neither throttled nor recorded. Account state is only revealed after a
// correct password.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	res, err := s.login(ctx, in)
	switch {
	case err == nil && res.TwoFactorRequired:
		s.metrics.LoginResult("two_factor_required")
	case err == nil:
		s.metrics.LoginResult("success")
	case errors.Is(err, ErrInvalidCredentials):
		s.metrics.LoginResult("invalid_credentials")
	case errors.Is(err, ErrTooManyAttempts):
		s.metrics.LoginResult("throttled")
	case errors.Is(err, ErrAccountBlocked), errors.Is(err, ErrAccountDisabled):
		s.metrics.LoginResult("account_rejected")
	default:
		s.metrics.LoginResult("error")
	}
	return res, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	u, err := s.lookupByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.throttle.Check(ctx, u.ID); err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			s.logger.Warnw("login throttled", "user_id", u.ID, "ip", in.IP)
		}
		return nil, err
	}

	ok := s.hasher.Verify(u.PasswordHash, in.Password)
	if err := s.throttle.Record(ctx, u.ID, ok, in.IP); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := accountState(u); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, u, in.Password)

	if u.TwoFactorEnabled {
		return &LoginResult{TwoFactorRequired: true, UserID: u.ID}, nil
	}
	sess, err := s.openSession(ctx, u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{UserID: u.ID, Session: sess}, nil
}

// upgradeHash re-hashes a verified password whose hash was made with other
// parameters, such as a BCRYPT_COST change. Failures are logged and the
// login proceeds.
func (s *Service) upgradeHash(ctx context.Context, u *entity.User, password string) {
	if !s.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, u.ID, hash)
	}
	if err != nil {
		s.logger.Warnw("password rehash failed", "user_id", u.ID, "err", err)
		return
	}
	s.logger.Infow("password rehashed", "user_id", u.ID)
}

// VerifyTwoFactor completes a login that returned TwoFactorRequired. Wrong
// codes count as failed attempts for the throttle.
func (s *Service) VerifyTwoFactor(ctx context.Context, userID int64, code, ip string) (*Session, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return nil, ErrTwoFactorNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.HasTwoFactorSecret() {
		return nil, ErrTwoFactorNotConfigured
	}
	if err := s.throttle.Check(ctx, u.ID); err != nil {
		return nil, err
	}
	if !s.totp.VerifyCode(*u.TwoFactorSecret, code) {
		if err := s.throttle.Record(ctx, u.ID, false, ip); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTwoFactorCode
	}
	if err := accountState(u); err != nil {
		return nil, err
	}
	return s.openSession(ctx, u)
}

// RefreshResult carries a new access token and, when rotation is on, the
// replacement refresh token.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// Refresh exchanges a live refresh token for a new access token with the
// user's current roles.
func (s *Service) Refresh(ctx context.Context, token string) (*RefreshResult, error) {
	res, err := s.doRefresh(ctx, token)
	switch {
	case err == nil:
		s.metrics.RefreshResult("success")
	case errors.Is(err, ErrInvalidToken):
		s.metrics.RefreshResult("invalid")
	default:
		s.metrics.RefreshResult("error")
	}
	return res, err
}

func (s *Service) doRefresh(ctx context.Context, token string) (*RefreshResult, error) {
	claims, err := s.tokens.VerifyRefresh(token)
	if err != nil {
		return nil, err
	}
	stored, err := s.refresh.FindActive(ctx, token)
	if errors.Is(err, authrepo.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !stored.ExpiresAt.After(s.clock.Now()) || stored.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}

	u, err := s.users.FindByID(ctx, stored.UserID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if accountState(u) != nil {
		return nil, ErrInvalidToken
	}

	access, err := s.tokens.IssueAccess(u.ID, u.Roles)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued("access")
	out := &RefreshResult{AccessToken: access}

	if s.cfg.RotateRefreshTokens {
		n, err := s.refresh.Revoke(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("revoke refresh token: %w", err)
		}
		// a concurrent exchange already consumed this token
		if n != 1 {
			return nil, ErrInvalidToken
		}
		next, exp, err := s.tokens.IssueRefresh(u.ID)
		if err != nil {
			return nil, err
		}
		if err := s.refresh.Create(ctx, u.ID, next, exp); err != nil {
			return nil, fmt.Errorf("persist refresh token: %w", err)
		}
		s.metrics.TokenIssued("refresh")
		out.RefreshToken = next
	}
	return out, nil
}

// Logout revokes the refresh token. A token that is unknown or already
// revoked yields ErrTokenNotFound.
func (s *Service) Logout(ctx context.Context, token string) error {
	n, err := s.refresh.Revoke(ctx, token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}
