package authz

import (
	"context"
	"net/http"

	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/repository"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	userRolesKey contextKey = "user_roles"
)

// WithIdentity stores user and role information on the context.
func WithIdentity(ctx context.Context, userID string, roles []models.UserRole) context.Context {
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	return context.WithValue(ctx, userRolesKey, models.NormalizeRoles(roles))
}

func UserIDFromRequest(r *http.Request) (string, bool) {
	uid, ok := r.Context().Value(userIDKey).(string)
	if !ok || uid == "" {
		return "", false
	}
	return uid, true
}

func RolesFromRequest(r *http.Request) ([]models.UserRole, bool) {
	roles, ok := r.Context().Value(userRolesKey).([]models.UserRole)
	if !ok || !models.IsValidRoleList(roles) {
		return nil, false
	}
	return roles, true
}

// AudienceFromRequest returns the identity the request acts for.
func AudienceFromRequest(r *http.Request) (repository.Audience, bool) {
	uid, ok := UserIDFromRequest(r)
	if !ok {
		return repository.Audience{}, false
	}
	roles, _ := RolesFromRequest(r)
	return repository.Audience{UserID: uid, Roles: roles}, true
}
