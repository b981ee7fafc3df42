package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
)

type ResetRepo struct {
	db *sqlx.DB
}

func NewResetRepo(db *sqlx.DB) *ResetRepo {
	return &ResetRepo{db: db}
}

func (r *ResetRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS password_reset_tokens (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  token_hash CHAR(64) NOT NULL UNIQUE,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *ResetRepo) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		userID, Digest(token), expiresAt)
	return err
}

// Find returns the reset grant for token regardless of expiry, or ErrNotFound.
func (r *ResetRepo) Find(ctx context.Context, token string) (*entity.PasswordResetToken, error) {
	var t entity.PasswordResetToken
	err := r.db.GetContext(ctx, &t,
		`SELECT id, user_id, token_hash, expires_at, created_at FROM password_reset_tokens WHERE token_hash=$1`,
		Digest(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Consume deletes the grant for token if it is still valid at now and returns
// its user. Concurrent callers race on the DELETE; only one gets the row.
func (r *ResetRepo) Consume(ctx context.Context, token string, now time.Time) (int64, error) {
	var userID int64
	err := r.db.GetContext(ctx, &userID,
		`DELETE FROM password_reset_tokens WHERE token_hash=$1 AND expires_at > $2 RETURNING user_id`,
		Digest(token), now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return userID, nil
}

// DeleteForUser drops every outstanding reset grant of the user.
func (r *ResetRepo) DeleteForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id=$1`, userID)
	return err
}
