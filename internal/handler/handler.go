// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatquota/chatquota/internal/handler/dto"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/service"
	"github.com/chatquota/chatquota/internal/upstream"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidJSON    = "INVALID_JSON"
	CodeBodyTooLarge   = "BODY_TOO_LARGE"
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeUpstreamFailed = "UPSTREAM_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// Handler serves the fallback routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, http.StatusNotFound, CodeNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRawJSON writes an already encoded JSON body.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}

// decodeJSON reads the request body into v and writes the error response
// itself when decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorJSON(w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "request body too large")
			return false
		}
		writeErrorJSON(w, http.StatusBadRequest, CodeInvalidJSON, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service, quota and upstream errors to responses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var (
		validation *service.ValidationError
		exceeded   *quota.ExceededError
		upErr      *upstream.Error
	)

	switch {
	case errors.As(err, &validation):
		writeErrorJSON(w, http.StatusBadRequest, CodeValidation, validation.Error())
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusTooManyRequests, dto.QuotaExceededResponse{
			Error:      "Daily quota exhausted",
			Code:       CodeQuotaExceeded,
			DailyLimit: exceeded.Balance.Limit,
			UsedToday:  exceeded.Balance.Used,
			Remaining:  0,
		})
	case errors.As(err, &upErr):
		writeErrorJSON(w, upErr.StatusCode, CodeUpstreamFailed, upErr.Message)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "invalid email or password")
	case errors.Is(err, quota.ErrUserNotFound):
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "account not found or inactive")
	case errors.Is(err, service.ErrForbidden):
		writeErrorJSON(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		writeErrorJSON(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrEmailExists):
		writeErrorJSON(w, http.StatusBadRequest, "EMAIL_EXISTS", err.Error())
	case errors.Is(err, service.ErrCannotDeleteSelf), errors.Is(err, service.ErrEmptyUpdate):
		writeErrorJSON(w, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeErrorJSON(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
