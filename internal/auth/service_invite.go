package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	authentity "github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
	"github.com/ulissesGimSolubio/auth-api/internal/mailer"
	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
)

// SendInvite upserts the invite for email with a fresh token and mails the
// registration link. Only holders of an invite role may call it.
func (s *Service) SendInvite(ctx context.Context, email string, issuerID int64, issuerRoles []string) (*authentity.Invite, error) {
	if !entity.HasAnyRole(issuerRoles, s.cfg.InviteAllowedRoles) {
		return nil, ErrForbidden
	}
	email = normalizeEmail(email)

	existing, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	inv := &authentity.Invite{
		Email:     email,
		Token:     uuid.NewString(),
		ExpiresAt: s.clock.Now().Add(s.cfg.InviteTTL),
		SentBy:    issuerID,
	}
	if err := s.invites.Upsert(ctx, inv); err != nil {
		return nil, fmt.Errorf("upsert invite: %w", err)
	}

	msg, buildErr := mailer.InviteMessage(email, s.cfg.FrontendURL, inv.Token, s.cfg.InviteTTL)
	s.send(ctx, "invite", msg, buildErr)
	s.logger.Infow("invite sent", "invite_id", inv.ID, "sent_by", issuerID)
	return inv, nil
}
