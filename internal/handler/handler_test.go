package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/service"
	"github.com/chatquota/chatquota/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withCaller(r *http.Request, id, role string) *http.Request {
	ctx := auth.ContextWithAuth(r.Context(), &model.AuthContext{UserID: id, Role: role, IsActive: true})
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestHandler_NotFound(t *testing.T) {
	h := New()

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	h.NotFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if body := decodeBody(t, rec); body["error"] != "resource not found" {
		t.Errorf("unexpected error message: %v", body["error"])
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()

	h.MethodNotAllowed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func TestWriteServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"validation", &service.ValidationError{Field: "email", Message: "bad"}, http.StatusBadRequest, "email: bad"},
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid email or password"},
		{"inactive", fmt.Errorf("wrap: %w", quota.ErrUserNotFound), http.StatusUnauthorized, ""},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, ""},
		{"not found", service.ErrUserNotFound, http.StatusNotFound, ""},
		{"duplicate email", service.ErrEmailExists, http.StatusBadRequest, ""},
		{"self delete", service.ErrCannotDeleteSelf, http.StatusBadRequest, ""},
		{"empty update", service.ErrEmptyUpdate, http.StatusBadRequest, ""},
		{"upstream", &upstream.Error{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}, http.StatusServiceUnavailable, "overloaded"},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()

			writeServiceError(rec, discardLogger(), req, tt.err)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if tt.wantMsg != "" && body["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestWriteServiceError_QuotaExceeded(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec := httptest.NewRecorder()

	writeServiceError(rec, discardLogger(), req, &quota.ExceededError{Balance: quota.Balance{Limit: 10, Used: 10.3}})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["daily_limit"] != 10.0 || body["used_today"] != 10.3 || body["remaining"] != 0.0 {
		t.Errorf("body = %v", body)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+strings.Repeat("a", 100)+`"}`))
	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 16)

	var v map[string]string
	if decodeJSON(rec, req, &v) {
		t.Fatal("decodeJSON should fail")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	var v map[string]string
	if decodeJSON(rec, req, &v) {
		t.Fatal("decodeJSON should fail")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
