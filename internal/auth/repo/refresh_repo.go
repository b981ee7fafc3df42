package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
)

var ErrNotFound = errors.New("record not found")

// Digest is the storage form of a bearer secret. Lookups hash the presented
// value and compare digests, so a leaked table cannot be replayed.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  token_hash CHAR(64) NOT NULL UNIQUE,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id) WHERE revoked = false;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create persists a new refresh session.
func (r *RefreshRepo) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		userID, Digest(token), expiresAt)
	return err
}

// FindActive returns the non-revoked session for token or ErrNotFound.
// Expiry is left to the caller, which owns the clock.
func (r *RefreshRepo) FindActive(ctx context.Context, token string) (*entity.RefreshToken, error) {
	var rt entity.RefreshToken
	err := r.db.GetContext(ctx, &rt,
		`SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash=$1 AND revoked=false`, Digest(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

// Revoke marks the session revoked and returns the rows changed. A second
// revoke of the same token changes nothing.
func (r *RefreshRepo) Revoke(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked=true WHERE token_hash=$1 AND revoked=false`, Digest(token))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeAllForUser revokes every live session of the user.
func (r *RefreshRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked=true WHERE user_id=$1 AND revoked=false`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
