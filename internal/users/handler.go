package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/siep/siep/internal/platform/httpx"
	"github.com/siep/siep/internal/rbac"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceUsers, rbac.LevelRead))
		r.Get("/", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRoles, rbac.LevelWrite))
		r.Patch("/{id}/role", h.updateRole)
	})
}

// MountGroupRoutes registers group membership routes.
func (h *Handler) MountGroupRoutes(r chi.Router) {
	r.Use(h.rbac.Require(rbac.ResourceUsers, rbac.LevelRead))
	r.Get("/{id}/members", h.groupMembers)
	r.Get("/{id}/available-users", h.availableUsers)
}

type roleRequest struct {
	Role string `json:"role" validate:"required,max=64"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.IdentityFromContext(r.Context())
	filter := ListFilter{CenterID: r.URL.Query().Get("center_id")}
	if raw := r.URL.Query().Get("role"); raw != "" {
		filter.Role = rbac.Resolve(raw)
	}
	users, err := h.service.ListUsers(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": users})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.IdentityFromContext(r.Context())
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is required")
		return
	}
	user, err := h.service.UpdateRole(r.Context(), actor, chi.URLParam(r, "id"), req.Role)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, user)
	case errors.Is(err, ErrInvalidRole):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("update role failed", slog.String("user", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) groupMembers(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.IdentityFromContext(r.Context())
	users, err := h.service.GroupMembers(r.Context(), actor, chi.URLParam(r, "id"))
	h.respondUsers(w, r, users, err)
}

func (h *Handler) availableUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.IdentityFromContext(r.Context())
	users, err := h.service.AvailableUsers(r.Context(), actor, chi.URLParam(r, "id"))
	h.respondUsers(w, r, users, err)
}

func (h *Handler) respondUsers(w http.ResponseWriter, r *http.Request, users []User, err error) {
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("group users failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": users})
}
