package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
)

// AttemptRepo stores the append-only login_attempts log.
type AttemptRepo struct {
	db *sqlx.DB
}

func NewAttemptRepo(db *sqlx.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

func (r *AttemptRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS login_attempts (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  success BOOLEAN NOT NULL,
  ip TEXT NOT NULL DEFAULT '',
  attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_user_time ON login_attempts(user_id, attempt_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Record appends one attempt. at comes from the caller's clock so counting
// windows and stored timestamps agree.
func (r *AttemptRepo) Record(ctx context.Context, userID int64, success bool, ip string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (user_id, success, ip, attempt_at) VALUES ($1, $2, $3, $4)`,
		userID, success, ip, at)
	return err
}

// CountFailuresSince counts failed attempts with attempt_at >= since.
func (r *AttemptRepo) CountFailuresSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM login_attempts WHERE user_id=$1 AND success=false AND attempt_at >= $2`,
		userID, since)
	return n, err
}

// Recent returns the newest attempts for a user, most recent first.
func (r *AttemptRepo) Recent(ctx context.Context, userID int64, limit int) ([]entity.LoginAttempt, error) {
	out := []entity.LoginAttempt{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, user_id, success, ip, attempt_at FROM login_attempts
		WHERE user_id=$1 ORDER BY attempt_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
