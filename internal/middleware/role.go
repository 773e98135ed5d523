package middleware

import (
	"net/http"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
)

// RequireRole returns middleware that admits callers whose role satisfies
// allow. Must be applied after Auth middleware.
func RequireRole(allow func(*model.AuthContext) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			if !allow(authCtx) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits admin and super_admin callers.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole((*model.AuthContext).IsAdmin, "admin access required")
}

// RequireSuperAdmin admits super_admin callers only.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return RequireRole((*model.AuthContext).IsSuperAdmin, "super admin access required")
}
