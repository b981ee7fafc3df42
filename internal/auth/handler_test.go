package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

type harness struct {
	*fixture
	router    chi.Router
	transport Transport
}

func newHarness(t *testing.T, tweak ...func(*config.Auth)) *harness {
	t.Helper()
	f := newFixture(t, tweak...)
	tr := NewTransport(f.cfg, f.svc.Tokens().AccessTTL(), f.svc.Tokens().RefreshTTL(), "/auth")
	h := NewHandler(f.svc, tr, zap.NewNop().Sugar())

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/verify-2fa", h.VerifyTwoFactor)
		r.Post("/refresh-token", h.Refresh)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Get("/reset-password/{token}", h.ValidateResetToken)
		r.Post("/reset-password/{token}", h.ResetPassword)
		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(f.svc.Tokens(), tr))
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
			r.Post("/enable-2fa", h.EnableTwoFactor)
			r.Post("/change-password", h.ChangePassword)
			r.Post("/invites", h.SendInvite)
			r.With(RequireRoles("ADMIN")).Get("/admin-only", h.Me)
		})
	})
	return &harness{fixture: f, router: r, transport: tr}
}

func (h *harness) do(method, path, body string, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mod {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandlerRegisterAndLoginBearer(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/register", `{"email":"a@x.com","password":"password1","name":"A"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotZero(t, decode(t, rec)["userId"])

	rec = h.do(http.MethodPost, "/auth/register", `{"email":"a@x.com","password":"password1","name":"A"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_taken", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	access, _ := body["accessToken"].(string)
	require.NotEmpty(t, access)
	assert.NotEmpty(t, body["refreshToken"])
	assert.Empty(t, rec.Result().Cookies())

	rec = h.do(http.MethodGet, "/auth/me", "", bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body["user"].(map[string]any)["id"], decode(t, rec)["userId"])
}

func TestHandlerValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/register", `{"email":"nope","password":"short","name":"A"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation_failed", body["error"])
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	rec = h.do(http.MethodPost, "/auth/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/verify-2fa", `{"userId":1,"token":"12ab56"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLoginErrors(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "b@x.com", "password1")

	rec := h.do(http.MethodPost, "/auth/login", `{"email":"b@x.com","password":"wrongpass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decode(t, rec)["error"])

	for i := 0; i < 4; i++ {
		h.do(http.MethodPost, "/auth/login", `{"email":"b@x.com","password":"wrongpass"}`)
	}
	rec = h.do(http.MethodPost, "/auth/login", `{"email":"b@x.com","password":"password1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too_many_attempts", decode(t, rec)["error"])
}

func TestHandlerTwoFactorLogin(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser(t, "c@x.com", "password1")
	setup, err := h.svc.EnableTwoFactor(context.Background(), u.ID)
	require.NoError(t, err)

	rec := h.do(http.MethodPost, "/auth/login", `{"email":"c@x.com","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["twoFactorRequired"])
	assert.NotContains(t, body, "accessToken")

	code, err := h.svc.totp.CodeAt(setup.Secret)
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]any{"userId": u.ID, "token": code})
	rec = h.do(http.MethodPost, "/auth/verify-2fa", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["accessToken"])
}

func TestHandlerAuthMiddleware(t *testing.T) {
	h := newHarness(t)
	member := h.seedUser(t, "d@x.com", "password1", "SOLICITANTE")

	rec := h.do(http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decode(t, rec)["error"])

	rec = h.do(http.MethodGet, "/auth/me", "", bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode(t, rec)["error"])

	access, err := h.svc.Tokens().IssueAccess(member.ID, member.Roles)
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/auth/admin-only", "", bearer(access))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := h.svc.Tokens().IssueAccess(member.ID, []string{"ADMIN"})
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/auth/admin-only", "", bearer(admin))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerCookieTransport(t *testing.T) {
	h := newHarness(t, func(c *config.Auth) {
		c.Transport = config.TransportCookie
		c.CookieSecure = true
	})
	h.seedUser(t, "e@x.com", "password1")

	rec := h.do(http.MethodPost, "/auth/login", `{"email":"e@x.com","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "accessToken")

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, AccessCookie)
	require.Contains(t, cookies, RefreshCookie)
	assert.True(t, cookies[AccessCookie].HttpOnly)
	assert.True(t, cookies[AccessCookie].Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookies[AccessCookie].SameSite)
	assert.Equal(t, "/auth", cookies[RefreshCookie].Path)

	withCookies := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: cookies[AccessCookie].Value})
		r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: cookies[RefreshCookie].Value})
	}

	rec = h.do(http.MethodGet, "/auth/me", "", withCookies)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/auth/refresh-token", "", withCookies)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/auth/logout", "", withCookies)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge, c.Name)
	}

	rec = h.do(http.MethodPost, "/auth/refresh-token", "", withCookies)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerLogoutBearer(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "f@x.com", "password1")

	rec := h.do(http.MethodPost, "/auth/login", `{"email":"f@x.com","password":"password1"}`)
	body := decode(t, rec)
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)

	rec = h.do(http.MethodPost, "/auth/logout", "", bearer(access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := `{"refreshToken":"` + refresh + `"}`
	rec = h.do(http.MethodPost, "/auth/logout", payload, bearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/auth/logout", payload, bearer(access))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "token_not_found", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/refresh-token", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerInvites(t *testing.T) {
	h := newHarness(t, func(c *config.Auth) { c.InviteRequired = true })
	member := h.seedUser(t, "g@x.com", "password1", "SOLICITANTE")
	admin := h.seedUser(t, "root@x.com", "password1", "ADMIN")

	memberToken, err := h.svc.Tokens().IssueAccess(member.ID, member.Roles)
	require.NoError(t, err)
	rec := h.do(http.MethodPost, "/auth/invites", `{"email":"new@x.com"}`, bearer(memberToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken, err := h.svc.Tokens().IssueAccess(admin.ID, admin.Roles)
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/auth/invites", `{"email":"new@x.com"}`, bearer(adminToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/auth/register", `{"email":"new@x.com","password":"password1","name":"N","inviteToken":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invite_rejected", decode(t, rec)["error"])
}

func TestHandlerPasswordRecovery(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "h@x.com", "password1")

	rec := h.do(http.MethodPost, "/auth/forgot-password", `{"email":"unknown@x.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	generic := rec.Body.String()

	rec = h.do(http.MethodPost, "/auth/forgot-password", `{"email":"h@x.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generic, rec.Body.String())
	token := h.resets.only(t)

	rec = h.do(http.MethodGet, "/auth/reset-password/"+token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/auth/reset-password/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_or_expired_token", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/reset-password/"+token, `{"newPassword":"password2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/auth/login", `{"email":"h@x.com","password":"password2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerChangePassword(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser(t, "i@x.com", "password1")
	access, err := h.svc.Tokens().IssueAccess(u.ID, nil)
	require.NoError(t, err)

	rec := h.do(http.MethodPost, "/auth/change-password", `{"currentPassword":"nope1234","newPassword":"password2"}`, bearer(access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "current_password_mismatch", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/change-password", `{"currentPassword":"password1","newPassword":"password1"}`, bearer(access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/auth/change-password", `{"currentPassword":"password1","newPassword":"password2"}`, bearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)
}
