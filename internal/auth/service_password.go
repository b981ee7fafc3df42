package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	authrepo "github.com/ulissesGimSolubio/auth-api/internal/auth/repo"
	"github.com/ulissesGimSolubio/auth-api/internal/mailer"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ForgotPassword issues a reset link when the e-mail belongs to an account.
// The caller gets the same outcome either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.lookupByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if u == nil {
		s.logger.Debugw("password reset requested for unknown email")
		return nil
	}

	if err := s.resets.DeleteForUser(ctx, u.ID); err != nil {
		return fmt.Errorf("drop stale reset tokens: %w", err)
	}
	token, err := newResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.resets.Create(ctx, u.ID, token, s.clock.Now().Add(s.cfg.PasswordResetTTL)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	msg, buildErr := mailer.ResetPasswordMessage(u.Email, s.cfg.FrontendURL, token, s.cfg.PasswordResetTTL)
	s.send(ctx, "password_reset", msg, buildErr)
	s.logger.Infow("password reset issued", "user_id", u.ID)
	return nil
}

func (s *Service) findResetToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidOrExpiredToken
	}
	t, err := s.resets.Find(ctx, token)
	if errors.Is(err, authrepo.ErrNotFound) {
		return 0, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return 0, fmt.Errorf("find reset token: %w", err)
	}
	if !t.ExpiresAt.After(s.clock.Now()) {
		return 0, ErrInvalidOrExpiredToken
	}
	return t.UserID, nil
}

// ValidateResetToken reports whether token can still be used.
func (s *Service) ValidateResetToken(ctx context.Context, token string) error {
	_, err := s.findResetToken(ctx, token)
	return err
}

// ResetPassword consumes the token, sets a new password and ends every
// refresh session of the user. The token is consumed before the password
// is written, so of two concurrent resets only one succeeds.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if _, err := s.findResetToken(ctx, token); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.resets.Consume(ctx, token, s.clock.Now())
	if errors.Is(err, authrepo.ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.revokeSessions(ctx, userID, "password_reset")
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		return ErrCurrentPasswordMismatch
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.revokeSessions(ctx, u.ID, "password_change")
	return nil
}
