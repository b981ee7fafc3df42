package auth

import (
	"context"
	"errors"
	"fmt"

	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

// TwoFactorSetup is returned when a secret is generated.
type TwoFactorSetup struct {
	QRCode  string `json:"qrCode"`
	URI     string `json:"otpauthUrl"`
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
}

// EnableTwoFactor generates and stores a new TOTP secret. Unless confirmation
// is configured, the second factor is active immediately.
func (s *Service) EnableTwoFactor(ctx context.Context, userID int64) (*TwoFactorSetup, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	secret, err := s.totp.GenerateSecret(u.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := RenderProvisioningImage(secret.URI)
	if err != nil {
		return nil, err
	}

	enabled := !s.cfg.TwoFactorRequireConfirmation
	if err := s.users.UpdateTwoFactor(ctx, u.ID, &secret.Base32, enabled); err != nil {
		return nil, fmt.Errorf("store totp secret: %w", err)
	}
	s.logger.Infow("two-factor secret issued", "user_id", u.ID, "enabled", enabled)
	return &TwoFactorSetup{QRCode: qr, URI: secret.URI, Secret: secret.Base32, Enabled: enabled}, nil
}

// ConfirmTwoFactor turns the second factor on once the user proves the
// stored secret produces valid codes.
func (s *Service) ConfirmTwoFactor(ctx context.Context, userID int64, code string) error {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !u.HasTwoFactorSecret() {
		return ErrTwoFactorNotConfigured
	}
	if !s.totp.VerifyCode(*u.TwoFactorSecret, code) {
		return ErrInvalidTwoFactorCode
	}
	if u.TwoFactorEnabled {
		return nil
	}
	if err := s.users.UpdateTwoFactor(ctx, u.ID, u.TwoFactorSecret, true); err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}
	s.logger.Infow("two-factor confirmed", "user_id", u.ID)
	return nil
}
