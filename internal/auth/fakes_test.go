package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authentity "github.com/ulissesGimSolubio/auth-api/internal/auth/entity"
	authrepo "github.com/ulissesGimSolubio/auth-api/internal/auth/repo"
	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/internal/mailer"
	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	userrepo "github.com/ulissesGimSolubio/auth-api/internal/user/repo"
)

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*entity.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{nextID: 100, byID: map[int64]*entity.User{}}
}

func clone(u *entity.User) *entity.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (f *fakeUsers) FindByID(_ context.Context, id int64) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	return clone(u), nil
}

func (f *fakeUsers) Create(_ context.Context, u *entity.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return 0, userrepo.ErrEmailExists
		}
	}
	f.nextID++
	c := clone(u)
	c.ID = f.nextID
	f.byID[c.ID] = c
	return c.ID, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	return f.mutate(id, func(u *entity.User) { u.PasswordHash = hash })
}

func (f *fakeUsers) UpdateTwoFactor(_ context.Context, id int64, secret *string, enabled bool) error {
	return f.mutate(id, func(u *entity.User) {
		u.TwoFactorSecret = secret
		u.TwoFactorEnabled = enabled
	})
}

func (f *fakeUsers) AssignRoleByName(_ context.Context, userID int64, role string) error {
	return f.mutate(userID, func(u *entity.User) { u.Roles = append(u.Roles, role) })
}

func (f *fakeUsers) mutate(id int64, fn func(*entity.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	fn(u)
	return nil
}

type attempt struct {
	userID  int64
	success bool
	ip      string
	at      time.Time
}

type fakeAttempts struct {
	mu   sync.Mutex
	list []attempt
}

func (f *fakeAttempts) Record(_ context.Context, userID int64, success bool, ip string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, attempt{userID, success, ip, at})
	return nil
}

func (f *fakeAttempts) CountFailuresSince(_ context.Context, userID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.list {
		if a.userID == userID && !a.success && a.at.After(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.list)
}

type fakeRefresh struct {
	mu   sync.Mutex
	rows map[string]*authentity.RefreshToken
}

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{rows: map[string]*authentity.RefreshToken{}}
}

func (f *fakeRefresh) Create(_ context.Context, userID int64, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[token] = &authentity.RefreshToken{UserID: userID, TokenHash: authrepo.Digest(token), ExpiresAt: expiresAt}
	return nil
}

func (f *fakeRefresh) FindActive(_ context.Context, token string) (*authentity.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.rows[token]
	if !ok || rt.Revoked {
		return nil, authrepo.ErrNotFound
	}
	c := *rt
	return &c, nil
}

func (f *fakeRefresh) Revoke(_ context.Context, token string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.rows[token]
	if !ok || rt.Revoked {
		return 0, nil
	}
	rt.Revoked = true
	return 1, nil
}

func (f *fakeRefresh) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rt := range f.rows {
		if rt.UserID == userID && !rt.Revoked {
			rt.Revoked = true
			n++
		}
	}
	return n, nil
}

// edit changes the stored row of token in place.
func (f *fakeRefresh) edit(t *testing.T, token string, fn func(*authentity.RefreshToken)) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.rows[token]
	require.True(t, ok, "refresh token not stored")
	fn(rt)
}

func (f *fakeRefresh) active(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rt := range f.rows {
		if rt.UserID == userID && !rt.Revoked {
			n++
		}
	}
	return n
}

type fakeResets struct {
	mu   sync.Mutex
	rows map[string]*authentity.PasswordResetToken
}

func newFakeResets() *fakeResets {
	return &fakeResets{rows: map[string]*authentity.PasswordResetToken{}}
}

func (f *fakeResets) Create(_ context.Context, userID int64, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[token] = &authentity.PasswordResetToken{UserID: userID, TokenHash: authrepo.Digest(token), ExpiresAt: expiresAt}
	return nil
}

func (f *fakeResets) Find(_ context.Context, token string) (*authentity.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[token]
	if !ok {
		return nil, authrepo.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (f *fakeResets) Consume(_ context.Context, token string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[token]
	if !ok || !t.ExpiresAt.After(now) {
		return 0, authrepo.ErrNotFound
	}
	delete(f.rows, token)
	return t.UserID, nil
}

func (f *fakeResets) DeleteForUser(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.rows {
		if t.UserID == userID {
			delete(f.rows, k)
		}
	}
	return nil
}

// only returns the single stored token; fails the test otherwise.
func (f *fakeResets) only(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.rows, 1)
	for k := range f.rows {
		return k
	}
	return ""
}

type fakeInvites struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*authentity.Invite
}

func newFakeInvites() *fakeInvites {
	return &fakeInvites{rows: map[string]*authentity.Invite{}}
}

func (f *fakeInvites) Upsert(_ context.Context, inv *authentity.Invite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[inv.Email]; ok {
		inv.ID = existing.ID
	} else {
		f.nextID++
		inv.ID = f.nextID
	}
	c := *inv
	f.rows[inv.Email] = &c
	return nil
}

func (f *fakeInvites) FindByToken(_ context.Context, token string) (*authentity.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.rows {
		if inv.Token == token {
			c := *inv
			return &c, nil
		}
	}
	return nil, authrepo.ErrNotFound
}

func (f *fakeInvites) MarkUsed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.rows {
		if inv.ID == id {
			inv.Used = true
			return nil
		}
	}
	return authrepo.ErrNotFound
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeMailer) messages() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Message(nil), f.sent...)
}

type fixture struct {
	svc      *Service
	clock    *clockwork.FakeClock
	users    *fakeUsers
	attempts *fakeAttempts
	refresh  *fakeRefresh
	resets   *fakeResets
	invites  *fakeInvites
	mail     *fakeMailer
	cfg      config.Auth
	deps     Deps
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testJWT() config.JWT {
	return config.JWT{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "auth-api-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func testAuthConfig() config.Auth {
	return config.Auth{
		Transport:          config.TransportBearer,
		CookieSameSite:     "strict",
		InviteTTL:          24 * time.Hour,
		InviteAllowedRoles: []string{"ADMIN", "COORDENADOR"},
		AdminRoles:         []string{"ADMIN"},
		TOTPIssuer:         "AuthAPI",
		PasswordResetTTL:   time.Hour,
		BcryptCost:         bcrypt.MinCost,
		MaxFailedAttempts:  5,
		FailureWindow:      10 * time.Minute,
		FrontendURL:        "http://app.test",
	}
}

func newFixture(t *testing.T, tweak ...func(*config.Auth)) *fixture {
	t.Helper()
	cfg := testAuthConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}
	f := &fixture{
		clock:    clockwork.NewFakeClockAt(epoch),
		users:    newFakeUsers(),
		attempts: &fakeAttempts{},
		refresh:  newFakeRefresh(),
		resets:   newFakeResets(),
		invites:  newFakeInvites(),
		mail:     &fakeMailer{},
		cfg:      cfg,
	}
	f.deps = Deps{
		Users:    f.users,
		Attempts: f.attempts,
		Refresh:  f.refresh,
		Resets:   f.resets,
		Invites:  f.invites,
		Mailer:   f.mail,
		Tokens:   NewTokenIssuer(testJWT(), f.clock),
		Clock:    f.clock,
		Config:   cfg,
	}
	f.svc = NewService(f.deps)
	return f
}

// useHasher rebuilds the service around h, keeping every store.
func (f *fixture) useHasher(h PasswordHasher) {
	f.deps.Hasher = h
	f.svc = NewService(f.deps)
}

// seedUser stores an active account with the given password and roles.
func (f *fixture) seedUser(t *testing.T, email, password string, roles ...string) *entity.User {
	t.Helper()
	hash, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash(password)
	require.NoError(t, err)
	id, err := f.users.Create(context.Background(), &entity.User{
		Email: email, Name: "Test", PasswordHash: hash, Active: true, Roles: roles,
	})
	require.NoError(t, err)
	u, err := f.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}
