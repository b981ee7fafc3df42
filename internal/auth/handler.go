package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/ratelimit"
	"github.com/ulissesGimSolubio/auth-api/internal/user/entity"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

// Handler exposes the authentication, password and invite endpoints.
type Handler struct {
	svc       *Service
	transport Transport
	logger    *zap.SugaredLogger
}

func NewHandler(svc *Service, transport Transport, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, transport: transport, logger: logger}
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{ErrAccountBlocked, http.StatusForbidden, "account_blocked"},
	{ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{ErrTokenNotFound, http.StatusNotFound, "token_not_found"},
	{ErrTwoFactorNotConfigured, http.StatusBadRequest, "two_factor_not_configured"},
	{ErrInvalidTwoFactorCode, http.StatusUnauthorized, "invalid_two_factor_code"},
	{ErrEmailTaken, http.StatusConflict, "email_taken"},
	{ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{ErrUserAlreadyExists, http.StatusBadRequest, "user_already_exists"},
	{ErrCurrentPasswordMismatch, http.StatusBadRequest, "current_password_mismatch"},
	{ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid_or_expired_token"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
}

// fail maps err to a response. Unknown errors are logged once and reported
// without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *utilities.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: ve.Error(), Fields: ve.Fields()})
		return
	case errors.Is(err, utilities.ErrBadJSON):
		writeError(w, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return
	case isInviteError(err):
		h.logger.Infow("invite rejected", "path", r.URL.Path, "reason", err.Error())
		writeError(w, http.StatusBadRequest, "invite_rejected", "invalid or expired invite")
		return
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			h.logger.Debugw("request rejected", "path", r.URL.Path, "code", e.code)
			writeError(w, e.status, e.code, e.err.Error())
			return
		}
	}
	h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Name        string `json:"name" validate:"required,max=120"`
	InviteToken string `json:"inviteToken,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.svc.Register(r.Context(), RegisterInput{
		Email: req.Email, Password: req.Password, Name: req.Name, InviteToken: req.InviteToken,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "user created", "userId": id})
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	AccessToken  string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	User         entity.PublicUser `json:"user"`
}

// writeSession renders tokens in the body (bearer) or as cookies.
func (h *Handler) writeSession(w http.ResponseWriter, sess *Session) {
	if h.transport.Cookies() {
		h.transport.SetTokens(w, sess.AccessToken, sess.RefreshToken)
		writeJSON(w, http.StatusOK, sessionResponse{User: sess.User})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken, User: sess.User})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{Email: req.Email, Password: req.Password, IP: ratelimit.ClientIP(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusOK, map[string]any{"twoFactorRequired": true, "userId": res.UserID})
		return
	}
	h.writeSession(w, res.Session)
}

type VerifyTwoFactorRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Token  string `json:"token" validate:"required,len=6,numeric"`
}

func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.svc.VerifyTwoFactor(r.Context(), req.UserID, req.Token, ratelimit.ClientIP(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeSession(w, sess)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token := h.transport.RefreshToken(r, req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "refresh token not provided")
		return
	}
	res, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			h.transport.Clear(w)
		}
		h.fail(w, r, err)
		return
	}
	if h.transport.Cookies() {
		h.transport.SetTokens(w, res.AccessToken, res.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]string{"message": "token refreshed"})
		return
	}
	body := map[string]string{"accessToken": res.AccessToken}
	if res.RefreshToken != "" {
		body["refreshToken"] = res.RefreshToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token := h.transport.RefreshToken(r, req.RefreshToken)
	h.transport.Clear(w)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "refresh token not provided")
		return
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	setup, err := h.svc.EnableTwoFactor(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

type ConfirmTwoFactorRequest struct {
	Token string `json:"token" validate:"required,len=6,numeric"`
}

func (h *Handler) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTwoFactorRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims, _ := ClaimsFrom(r.Context())
	if err := h.svc.ConfirmTwoFactor(r.Context(), claims.UserID, req.Token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "two-factor authentication enabled"})
}

// Me echoes the identity carried by the access token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"userId": claims.UserID, "roles": claims.Roles})
}

type InviteRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (h *Handler) SendInvite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims, _ := ClaimsFrom(r.Context())
	inv, err := h.svc.SendInvite(r.Context(), req.Email, claims.UserID, claims.Roles)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "invite sent", "email": inv.Email, "expiresAt": inv.ExpiresAt})
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "if the e-mail is registered, a reset link has been sent"})
}

func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ValidateResetToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims, _ := ClaimsFrom(r.Context())
	if err := h.svc.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	h.transport.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}
