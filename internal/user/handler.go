package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

// Handler exposes HTTP endpoints for account administration.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *utilities.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation_failed", "message": ve.Error(), "fields": ve.Fields()})
	case errors.Is(err, utilities.ErrBadJSON):
		h.writeError(w, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
	case errors.Is(err, ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, ErrRoleNotFound):
		h.writeError(w, http.StatusNotFound, "role_not_found", err.Error())
	case errors.Is(err, ErrRoleNotAssigned):
		h.writeError(w, http.StatusNotFound, "role_not_assigned", err.Error())
	default:
		h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_query", "page must be an integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_query", "limit must be an integer")
		return
	}
	q := ListQuery{Page: page, Limit: limit, Status: r.URL.Query().Get("status"), Role: r.URL.Query().Get("role")}
	if err := utilities.Validate(q); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// stateAction adapts one of the flag operations to an endpoint.
func (h *Handler) stateAction(op func(context.Context, int64) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, "id")
		if !ok {
			return
		}
		if err := op(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"message": done, "userId": id})
	}
}

func (h *Handler) Block() http.HandlerFunc   { return h.stateAction(h.svc.Block, "user blocked") }
func (h *Handler) Unblock() http.HandlerFunc { return h.stateAction(h.svc.Unblock, "user unblocked") }
func (h *Handler) Disable() http.HandlerFunc { return h.stateAction(h.svc.Disable, "user disabled") }
func (h *Handler) Enable() http.HandlerFunc  { return h.stateAction(h.svc.Enable, "user enabled") }

type AssignRoleRequest struct {
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if err := utilities.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "role assigned", "userId": userID, "roleId": req.RoleID})
}

func (h *Handler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleId")
	if !ok {
		return
	}
	if err := h.svc.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "role removed", "userId": userID, "roleId": roleID})
}
