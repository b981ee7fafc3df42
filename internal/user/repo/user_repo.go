package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrRoleMissing = errors.New("role not found")
	ErrEmailExists = errors.New("email already registered")
)

const uniqueViolation = "23505"

// UserRepo provides data access for users, roles and user_roles using sqlx.
type UserRepo struct {
	db  *sqlx.DB
	ids *utilities.IDGenerator
}

func NewUserRepo(db *sqlx.DB, ids *utilities.IDGenerator) *UserRepo {
	return &UserRepo{db: db, ids: ids}
}

// EnsureTable creates users, roles and user_roles if they do not exist.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  email CITEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT true,
  blocked BOOLEAN NOT NULL DEFAULT false,
  two_factor_enabled BOOLEAN NOT NULL DEFAULT false,
  two_factor_secret TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC);
CREATE TABLE IF NOT EXISTS roles (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS user_roles (
  user_id BIGINT NOT NULL REFERENCES users(id),
  role_id BIGINT NOT NULL REFERENCES roles(id),
  PRIMARY KEY (user_id, role_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// userRow shadows entity.User.Roles with the aggregated role array.
type userRow struct {
	entity.User
	Roles pq.StringArray `db:"roles"`
}

func (row *userRow) toEntity() *entity.User {
	u := row.User
	u.Roles = []string(row.Roles)
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return &u
}

const selectUser = `SELECT u.id, u.email, u.name, u.password_hash, u.active, u.blocked,
		u.two_factor_enabled, u.two_factor_secret, u.created_at, u.updated_at,
		COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}') AS roles
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id`

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*entity.User, error) {
	q := selectUser + " WHERE " + where + " GROUP BY u.id"
	var row userRow
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// FindByEmail returns the user with this email (case-insensitive) or ErrNotFound.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, "u.email = $1", strings.TrimSpace(email))
}

// FindByID returns the user or ErrNotFound.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, "u.id = $1", id)
}

// Create inserts a new user row and returns its id. A duplicate email yields ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	if u.ID == 0 {
		u.ID = r.ids.Next()
	}
	const q = `INSERT INTO users (id, email, name, password_hash, active, blocked, two_factor_enabled, two_factor_secret)
		VALUES (:id, :email, :name, :password_hash, :active, :blocked, :two_factor_enabled, :two_factor_secret)`
	if _, err := r.db.NamedExecContext(ctx, q, u); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	return u.ID, nil
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
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

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, id, hash)
}

// UpdateTwoFactor stores the TOTP secret and the enabled flag together.
func (r *UserRepo) UpdateTwoFactor(ctx context.Context, id int64, secret *string, enabled bool) error {
	return r.execOne(ctx, `UPDATE users SET two_factor_secret=$2, two_factor_enabled=$3, updated_at=NOW() WHERE id=$1`, id, secret, enabled)
}

// SetBlocked sets or clears the blocked flag.
func (r *UserRepo) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	return r.execOne(ctx, `UPDATE users SET blocked=$2, updated_at=NOW() WHERE id=$1`, id, blocked)
}

// SetActive sets or clears the active flag.
func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, `UPDATE users SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
}

// ListFilter narrows List. Status is one of "", "active", "inactive", "blocked".
type ListFilter struct {
	Status string
	Role   string
	Limit  int
	Offset int
}

func (f ListFilter) where() (string, []any) {
	var conds []string
	var args []any
	switch f.Status {
	case "active":
		conds = append(conds, "u.active = true")
	case "inactive":
		conds = append(conds, "u.active = false")
	case "blocked":
		conds = append(conds, "u.blocked = true")
	}
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf(`EXISTS (SELECT 1 FROM user_roles fur JOIN roles fr ON fr.id = fur.role_id
			WHERE fur.user_id = u.id AND fr.name = $%d)`, len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of users, newest first, and the total matching count.
func (r *UserRepo) List(ctx context.Context, f ListFilter) ([]*entity.User, int, error) {
	where, args := f.where()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users u`+where, args...); err != nil {
		return nil, 0, err
	}

	q := selectUser + where + fmt.Sprintf(" GROUP BY u.id ORDER BY u.created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, q, append(args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, err
	}
	out := make([]*entity.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, total, nil
}

// UpsertRole returns the id of the named role, creating it if needed.
func (r *UserRepo) UpsertRole(ctx context.Context, name string) (int64, error) {
	const q = `INSERT INTO roles (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`
	var id int64
	if err := r.db.GetContext(ctx, &id, q, name); err != nil {
		return 0, err
	}
	return id, nil
}

// FindRoleByID returns the role or ErrRoleMissing.
func (r *UserRepo) FindRoleByID(ctx context.Context, id int64) (*entity.Role, error) {
	var role entity.Role
	if err := r.db.GetContext(ctx, &role, `SELECT id, name FROM roles WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleMissing
		}
		return nil, err
	}
	return &role, nil
}

// AssignRole links a user and a role; assigning twice is a no-op.
func (r *UserRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// AssignRoleByName links a user to the named role, which must already exist.
func (r *UserRepo) AssignRoleByName(ctx context.Context, userID int64, role string) error {
	const q = `INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT DO NOTHING`
	res, err := r.db.ExecContext(ctx, q, userID, role)
	if err != nil {
		return err
	}
	// zero rows is either an existing link or a missing role; only the latter is an error
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		if err := r.db.GetContext(ctx, &one, `SELECT 1 FROM roles WHERE name=$1`, role); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoleMissing
			}
			return err
		}
	}
	return nil
}

// RemoveRole unlinks a user and a role and returns the number of rows removed.
func (r *UserRepo) RemoveRole(ctx context.Context, userID, roleID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=$1 AND role_id=$2`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
