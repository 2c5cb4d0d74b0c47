package authz

import (
	"net/http"

	"github.com/stanstork/his-notify/internal/models"
)

// RequireAnyRole returns a middleware that lets the request through only when
// the caller holds one of the allowed roles.
func RequireAnyRole(allowed ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles, ok := RolesFromRequest(r)
			if !ok || !models.HasAnyRole(roles, allowed...) {
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRoleHandler applies the role middleware inline when registering routes.
func RequireAnyRoleHandler(next http.Handler, allowed ...models.UserRole) http.Handler {
	return RequireAnyRole(allowed...)(next)
}
