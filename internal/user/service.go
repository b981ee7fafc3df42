package user

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrRoleNotFound    = errors.New("role not found")
	ErrRoleNotAssigned = errors.New("role not assigned to user")
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 1_000_000
	recentAttempts  = 5
)

// Store is the part of the user repository account administration needs.
type Store interface {
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context, f userrepo.ListFilter) ([]*entity.User, int, error)
	FindRoleByID(ctx context.Context, id int64) (*entity.Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) (int64, error)
}

type AttemptHistory interface {
	Recent(ctx context.Context, userID int64, limit int) ([]entity.LoginAttempt, error)
}

// SessionRevoker ends every refresh session of a user.
type SessionRevoker interface {
	RevokeSessions(ctx context.Context, userID int64, reason string)
}

// UserService implements account administration: state flags, roles and
// read-only listings.
type UserService struct {
	store    Store
	attempts AttemptHistory
	sessions SessionRevoker
	logger   *zap.SugaredLogger
}

func NewUserService(store Store, attempts AttemptHistory, sessions SessionRevoker, logger *zap.SugaredLogger) *UserService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{store: store, attempts: attempts, sessions: sessions, logger: logger}
}

func notFound(err error) error {
	if errors.Is(err, userrepo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// Block marks the account blocked and ends its sessions.
func (s *UserService) Block(ctx context.Context, id int64) error {
	if err := s.store.SetBlocked(ctx, id, true); err != nil {
		return notFound(err)
	}
	s.sessions.RevokeSessions(ctx, id, "blocked")
	s.logger.Infow("user blocked", "user_id", id)
	return nil
}

func (s *UserService) Unblock(ctx context.Context, id int64) error {
	if err := s.store.SetBlocked(ctx, id, false); err != nil {
		return notFound(err)
	}
	s.logger.Infow("user unblocked", "user_id", id)
	return nil
}

// Disable deactivates the account and ends its sessions.
func (s *UserService) Disable(ctx context.Context, id int64) error {
	if err := s.store.SetActive(ctx, id, false); err != nil {
		return notFound(err)
	}
	s.sessions.RevokeSessions(ctx, id, "disabled")
	s.logger.Infow("user disabled", "user_id", id)
	return nil
}

func (s *UserService) Enable(ctx context.Context, id int64) error {
	if err := s.store.SetActive(ctx, id, true); err != nil {
		return notFound(err)
	}
	s.logger.Infow("user enabled", "user_id", id)
	return nil
}

// AssignRole links an existing role to an existing user. Assigning a role
// the user already holds succeeds.
func (s *UserService) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.store.FindByID(ctx, userID); err != nil {
		return notFound(err)
	}
	role, err := s.store.FindRoleByID(ctx, roleID)
	if errors.Is(err, userrepo.ErrRoleMissing) {
		return ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("find role: %w", err)
	}
	if err := s.store.AssignRole(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	s.logger.Infow("role assigned", "user_id", userID, "role", role.Name)
	return nil
}

func (s *UserService) RemoveRole(ctx context.Context, userID, roleID int64) error {
	n, err := s.store.RemoveRole(ctx, userID, roleID)
	if err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	if n == 0 {
		return ErrRoleNotAssigned
	}
	s.logger.Infow("role removed", "user_id", userID, "role_id", roleID)
	return nil
}

// ListQuery is the filter and page requested by the caller. Zero Page and
// Limit select the defaults.
type ListQuery struct {
	Page   int    `json:"page" validate:"gte=0,lte=1000000"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive blocked"`
	Role   string `json:"role" validate:"omitempty,max=64"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type Page struct {
	Users      []*entity.User `json:"users"`
	Pagination Pagination     `json:"pagination"`
}

// List returns users newest first.
func (s *UserService) List(ctx context.Context, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > maxPage {
		q.Page = maxPage
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	users, total, err := s.store.List(ctx, userrepo.ListFilter{
		Status: q.Status,
		Role:   q.Role,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &Page{
		Users: users,
		Pagination: Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

// Detail is a user with its most recent login attempts.
type Detail struct {
	User           *entity.User          `json:"user"`
	RecentAttempts []entity.LoginAttempt `json:"recentAttempts"`
}

func (s *UserService) Get(ctx context.Context, id int64) (*Detail, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	attempts, err := s.attempts.Recent(ctx, id, recentAttempts)
	if err != nil {
		return nil, fmt.Errorf("recent attempts: %w", err)
	}
	return &Detail{User: u, RecentAttempts: attempts}, nil
}
