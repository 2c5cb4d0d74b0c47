package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/handlers"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/notification"
	"github.com/stanstork/his-notify/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	notification.Service
	deleted string
}

func (s *stubService) List(context.Context, repository.Audience, models.NotificationFilters) ([]models.Notification, error) {
	return nil, nil
}

func (s *stubService) Send(_ context.Context, req models.SendRequest) ([]models.Notification, error) {
	return []models.Notification{{ID: "n1", Type: req.Type}}, nil
}

func (s *stubService) Delete(_ context.Context, _ repository.Audience, id string) error {
	s.deleted = id
	return nil
}

type stubPreferences struct {
	notification.PreferenceService
}

func (stubPreferences) GetPreferences(_ context.Context, userID string) (models.NotificationPreferences, error) {
	return models.DefaultPreferences(userID), nil
}

func newTestRouter(t *testing.T) (http.Handler, *authz.Authenticator, *stubService) {
	t.Helper()
	auth := authz.NewAuthenticator("secret")
	svc := &stubService{}
	router := NewRouter(Deps{
		Auth:          auth,
		Notifications: handlers.NewNotificationHandler(svc, zerolog.Nop()),
		Preferences:   handlers.NewPreferencesHandler(stubPreferences{}, zerolog.Nop()),
		Stream:        handlers.NewStreamHandler(notification.NewHub(time.Second, zerolog.Nop()), nil, zerolog.Nop()),
		Health:        handlers.HealthCheck(nil),
	})
	return router, auth, svc
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterRequiresToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/api/notifications", "", "").Code)
}

func TestRouterRoutes(t *testing.T) {
	router, auth, svc := newTestRouter(t)
	token, err := auth.IssueToken("u1", []models.UserRole{models.RoleInfirmier}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/notifications", token, "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/notifications/preferences", token, "").Code)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/notifications/n7", token, "").Code)
	assert.Equal(t, "n7", svc.deleted)

	// nurses receive notifications but cannot send them
	body := `{"type":"reminder","title":"Tournée"}`
	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodPost, "/api/notifications", token, body).Code)

	doctor, err := auth.IssueToken("d1", []models.UserRole{models.RoleMedecin}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/notifications", doctor, body).Code)
}
