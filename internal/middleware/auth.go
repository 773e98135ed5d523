package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/service"
)

// TokenParser validates a bearer token and returns its claims.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// IdentityResolver maps a token subject to the account's current role and
// active flag.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (*model.AuthContext, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Tokens     TokenParser
	Identities IdentityResolver
}

// Auth returns a middleware that authenticates API requests.
// It validates the bearer token, resolves the subject to a live account and
// injects the auth context into the request. Every credential failure is a
// 401 with the same body; a failing identity lookup is a 500.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fail := func(reason string) {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
			}

			token := extractBearerToken(r)
			if token == "" {
				fail("missing_token")
				return
			}

			claims, err := cfg.Tokens.Parse(token)
			if err != nil {
				fail("invalid_token")
				return
			}

			identity, err := cfg.Identities.ResolveIdentity(r.Context(), claims.Subject)
			if errors.Is(err, service.ErrUserNotFound) {
				fail("unknown_subject")
				return
			}
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				return
			}
			if !identity.IsActive {
				fail("inactive_account")
				return
			}

			setLoggedUser(r.Context(), identity.UserID)
			ctx := auth.ContextWithAuth(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token")
}

// writeError writes the flat {"error","code"} body used across the API.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
