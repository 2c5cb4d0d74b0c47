package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/notification"
)

type NotificationHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewNotificationHandler(service notification.Service, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	notifications, err := h.service.List(r.Context(), audience, filters)
	if err != nil {
		h.fail(w, err, "Failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
	})
}

func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	stats, err := h.service.Stats(r.Context(), audience)
	if err != nil {
		h.fail(w, err, "Failed to compute notification stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	var req models.MarkReadRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.MarkRead(r.Context(), audience, req.NotificationIDs, req.IsRead)
	if err != nil {
		h.fail(w, err, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), audience)
	if err != nil {
		h.fail(w, err, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	notifID := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if notifID == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), audience, notifID); err != nil {
		h.fail(w, err, "Failed to delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.Send(r.Context(), req)
	if err != nil {
		h.fail(w, err, "Failed to send notification")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"notifications": created,
	})
}

func (h *NotificationHandler) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, notification.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

// parseFilters reads list filters from the query string. Multi-valued filters
// accept repeated keys or comma-separated values.
func parseFilters(q url.Values) (models.NotificationFilters, error) {
	var f models.NotificationFilters

	for _, v := range splitValues(q["type"]) {
		f.Types = append(f.Types, models.NotificationType(v))
	}
	for _, v := range splitValues(q["priority"]) {
		f.Priorities = append(f.Priorities, models.NotificationPriority(strings.ToLower(v)))
	}

	if raw := strings.TrimSpace(q.Get("isRead")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid isRead %q", raw)
		}
		f.IsRead = &b
	}
	if raw := strings.TrimSpace(q.Get("includeExpired")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid includeExpired %q", raw)
		}
		f.IncludeExpired = b
	}

	var err error
	if f.DateFrom, err = parseTime(q.Get("dateFrom")); err != nil {
		return f, fmt.Errorf("invalid dateFrom: %w", err)
	}
	if f.DateTo, err = parseTime(q.Get("dateTo")); err != nil {
		return f, fmt.Errorf("invalid dateTo: %w", err)
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, fmt.Errorf("invalid limit: %w", err)
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, fmt.Errorf("invalid offset: %w", err)
	}
	return f, nil
}

func splitValues(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, v := range strings.Split(entry, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
