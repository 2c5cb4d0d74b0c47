package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/notification"
)

type PreferencesHandler struct {
	service notification.PreferenceService
	logger  zerolog.Logger
}

func NewPreferencesHandler(service notification.PreferenceService, logger zerolog.Logger) *PreferencesHandler {
	return &PreferencesHandler{
		service: service,
		logger:  logger.With().Str("handler", "preferences").Logger(),
	}
}

func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	prefs, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load preferences")
		http.Error(w, "Failed to load preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// Update replaces the caller's preferences. The user id always comes from the
// token, whatever the body says.
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	var prefs models.NotificationPreferences
	if err := decodeJSON(r, &prefs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	prefs.UserID = userID

	saved, err := h.service.UpdatePreferences(r.Context(), prefs)
	if err != nil {
		if errors.Is(err, notification.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to save preferences")
		http.Error(w, "Failed to save preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
