package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

// DefaultRoles are created by every seed run.
var DefaultRoles = []string{"ADMIN", "SOLICITANTE", "COORDENADOR"}

// File is the YAML seed document.
type File struct {
	Roles []string `yaml:"roles"`
	Users []User   `yaml:"users" validate:"dive"`
}

type User struct {
	Email    string   `yaml:"email" validate:"required,email"`
	Name     string   `yaml:"name"`
	Password string   `yaml:"password" validate:"required,min=8"`
	Roles    []string `yaml:"roles"`
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := utilities.Validate(f); err != nil {
		return File{}, fmt.Errorf("invalid seed: %w", err)
	}
	return f, nil
}

// Load reads the seed at path. An empty path yields a document with only the
// default roles.
func Load(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(data)
}

// Store is what seeding needs from the user repository.
type Store interface {
	UpsertRole(ctx context.Context, name string) (int64, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) (int64, error)
	AssignRoleByName(ctx context.Context, userID int64, role string) error
}

type Hasher interface {
	Hash(pw string) (string, error)
}

type Result struct {
	Roles        int
	UsersCreated int
	UsersKept    int
}

type Seeder struct {
	store  Store
	hasher Hasher
	logger *zap.SugaredLogger
}

func NewSeeder(store Store, hasher Hasher, logger *zap.SugaredLogger) *Seeder {
	return &Seeder{store: store, hasher: hasher, logger: logger}
}

// Apply is idempotent: roles are upserted, missing users are created and
// role links are added. Existing users keep their password.
func (s *Seeder) Apply(ctx context.Context, f File) (Result, error) {
	var res Result

	roles := map[string]bool{}
	var ordered []string
	add := func(name string) {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name != "" && !roles[name] {
			roles[name] = true
			ordered = append(ordered, name)
		}
	}
	for _, r := range DefaultRoles {
		add(r)
	}
	for _, r := range f.Roles {
		add(r)
	}
	for _, u := range f.Users {
		for _, r := range u.Roles {
			add(r)
		}
	}
	for _, name := range ordered {
		if _, err := s.store.UpsertRole(ctx, name); err != nil {
			return res, fmt.Errorf("upsert role %s: %w", name, err)
		}
		res.Roles++
	}

	for _, su := range f.Users {
		email := strings.ToLower(strings.TrimSpace(su.Email))
		id, created, err := s.ensureUser(ctx, email, su)
		if err != nil {
			return res, err
		}
		if created {
			res.UsersCreated++
		} else {
			res.UsersKept++
		}
		for _, r := range su.Roles {
			if err := s.store.AssignRoleByName(ctx, id, strings.ToUpper(strings.TrimSpace(r))); err != nil {
				return res, fmt.Errorf("assign %s to %s: %w", r, email, err)
			}
		}
	}
	s.logger.Infow("seed applied", "roles", res.Roles, "users_created", res.UsersCreated, "users_kept", res.UsersKept)
	return res, nil
}

func (s *Seeder) ensureUser(ctx context.Context, email string, su User) (int64, bool, error) {
	existing, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, userrepo.ErrNotFound) {
		return 0, false, fmt.Errorf("find %s: %w", email, err)
	}
	hash, err := s.hasher.Hash(su.Password)
	if err != nil {
		return 0, false, fmt.Errorf("hash password for %s: %w", email, err)
	}
	id, err := s.store.Create(ctx, &entity.User{Email: email, Name: su.Name, PasswordHash: hash, Active: true})
	if err != nil {
		return 0, false, fmt.Errorf("create %s: %w", email, err)
	}
	return id, true, nil
}
