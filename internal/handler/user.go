package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/handler/dto"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/service"
)

// AccountService is the self-service surface used by UserHandler.
type AccountService interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Profile(ctx context.Context, userID string) (*model.User, error)
	Usage(ctx context.Context, userID string) (*service.UsageSummary, error)
}

// UserHandler serves registration, login and the caller's own data.
type UserHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc AccountService, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

// Register handles POST /api/auth/register.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToAuthResponse("registration completed", session))
}

// Login handles POST /api/auth/login.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeErrorJSON(w, http.StatusBadRequest, CodeValidation, "email and password are required")
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToAuthResponse("logged in", session))
}

// Me handles GET /api/auth/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	user, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.ToResponse())
}

// Usage handles GET /api/usage/me.
func (h *UserHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	summary, err := h.svc.Usage(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUsageResponse(summary))
}
