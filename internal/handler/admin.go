package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/handler/dto"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/service"
)

// UserAdministrator is the account administration surface.
type UserAdministrator interface {
	ListUsers(ctx context.Context, roles []string) ([]model.UserWithUsage, error)
	GetUser(ctx context.Context, id string) (*service.UserDetail, error)
	CreateUser(ctx context.Context, caller *model.AuthContext, input service.CreateUserInput) (*model.User, error)
	UpdateUser(ctx context.Context, caller *model.AuthContext, id string, upd model.UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, caller *model.AuthContext, id string) error
	Stats(ctx context.Context) (*service.Stats, error)
}

// SettingsEditor reads and edits process-wide settings.
type SettingsEditor interface {
	All(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, upd service.SettingsUpdate) (map[string]string, error)
}

// AdminHandler serves /api/admin. Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	users    UserAdministrator
	settings SettingsEditor
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users UserAdministrator, settings SettingsEditor, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		users:    users,
		settings: settings,
		logger:   logger,
	}
}

// ListUsers handles GET /api/admin/users?role=student,admin.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var roles []string
	for _, v := range r.URL.Query()["role"] {
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}

	users, err := h.users.ListUsers(r.Context(), roles)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserList(users))
}

// GetUser handles GET /api/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	detail, err := h.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserDetailResponse(detail))
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.AuthFromContext(r.Context())
	if caller == nil {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	var req dto.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.CreateUser(r.Context(), caller, service.CreateUserInput{
		Email:        req.Email,
		Password:     req.Password,
		Name:         req.Name,
		Role:         req.Role,
		DailyMinutes: req.DailyMinutes,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.UserMutationResponse{Message: "user created", User: user.ToResponse()})
}

// UpdateUser handles PUT /api/admin/users/{id}.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.AuthFromContext(r.Context())
	if caller == nil {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	var req dto.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.UpdateUser(r.Context(), caller, chi.URLParam(r, "id"), req.ToUpdate())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.UserMutationResponse{Message: "user updated", User: user.ToResponse()})
}

// DeleteUser handles DELETE /api/admin/users/{id}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.AuthFromContext(r.Context())
	if caller == nil {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	if err := h.users.DeleteUser(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "user deleted"})
}

// GetSettings handles GET /api/admin/settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.All(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/admin/settings.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, err := h.settings.Update(r.Context(), service.SettingsUpdate{
		DefaultDailyMinutes: req.DefaultDailyMinutes,
		SystemPersonality:   req.SystemPersonality,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	h.logger.Info("settings_updated", slog.String("admin_id", auth.UserIDFromContext(r.Context())))
	writeJSON(w, http.StatusOK, settings)
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToStatsResponse(stats))
}
