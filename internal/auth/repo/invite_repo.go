package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
)

// InviteRepo keeps one invite row per email.
type InviteRepo struct {
	db *sqlx.DB
}

func NewInviteRepo(db *sqlx.DB) *InviteRepo {
	return &InviteRepo{db: db}
}

// EnsureTable creates the invites table and its indexes.
func (r *InviteRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS invites (
		id BIGSERIAL PRIMARY KEY,
		email CITEXT NOT NULL,
		token UUID NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT false,
		sent_by BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idxEmail = `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invites_email ON invites (email);
	`
	if _, err := r.db.ExecContext(ctx, idxEmail); err != nil {
		return err
	}

	const idxToken = `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invites_token ON invites (token);
	`
	if _, err := r.db.ExecContext(ctx, idxToken); err != nil {
		return err
	}
	return nil
}

// Upsert creates the invite for inv.Email or replaces the token, expiry and
// issuer of the existing one, resetting it to unused. inv.ID is filled in.
func (r *InviteRepo) Upsert(ctx context.Context, inv *entity.Invite) error {
	const q = `INSERT INTO invites (email, token, expires_at, used, sent_by)
		VALUES ($1, $2, $3, false, $4)
		ON CONFLICT (email) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, used = false,
			sent_by = EXCLUDED.sent_by, updated_at = NOW()
		RETURNING id`
	return r.db.GetContext(ctx, &inv.ID, q, inv.Email, inv.Token, inv.ExpiresAt, inv.SentBy)
}

// FindByToken returns the invite or ErrNotFound.
func (r *InviteRepo) FindByToken(ctx context.Context, token string) (*entity.Invite, error) {
	var inv entity.Invite
	err := r.db.GetContext(ctx, &inv,
		`SELECT id, email, token, expires_at, used, sent_by, created_at, updated_at FROM invites WHERE token=$1`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// MarkUsed flags the invite as consumed.
func (r *InviteRepo) MarkUsed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE invites SET used=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
