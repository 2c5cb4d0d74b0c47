package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/handlers"
	"github.com/stanstork/his-notify/internal/models"
)

// Deps groups the handlers the router mounts.
type Deps struct {
	Auth          *authz.Authenticator
	Notifications *handlers.NotificationHandler
	Preferences   *handlers.PreferencesHandler
	Stream        *handlers.StreamHandler
	Health        http.HandlerFunc
}

// NewRouter sets up the API routes
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", d.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(d.Auth.Middleware)

	api.HandleFunc("/ws", d.Stream.Stream).Methods(http.MethodGet)

	n := api.PathPrefix("/notifications").Subrouter()
	n.HandleFunc("", d.Notifications.List).Methods(http.MethodGet)
	n.Handle("", authz.RequireAnyRoleHandler(http.HandlerFunc(d.Notifications.Send),
		models.RoleAdmin, models.RoleChefService, models.RoleMedecin, models.RoleSecretaire,
	)).Methods(http.MethodPost)
	n.HandleFunc("/stats", d.Notifications.Stats).Methods(http.MethodGet)
	n.HandleFunc("/read", d.Notifications.MarkRead).Methods(http.MethodPut)
	n.HandleFunc("/read-all", d.Notifications.MarkAllRead).Methods(http.MethodPut)
	n.HandleFunc("/preferences", d.Preferences.Get).Methods(http.MethodGet)
	n.HandleFunc("/preferences", d.Preferences.Update).Methods(http.MethodPut)
	n.HandleFunc("/{notificationID}", d.Notifications.Delete).Methods(http.MethodDelete)

	return router
}
