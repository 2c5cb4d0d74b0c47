package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stanstork/his-notify/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok")
}

func TestListEncodesFilters(t *testing.T) {
	read := false
	from := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, []string{"bed_available", "reminder"}, q["type"])
		assert.Equal(t, "false", q.Get("isRead"))
		assert.Equal(t, "2026-03-01T08:00:00Z", q.Get("dateFrom"))
		assert.Equal(t, "25", q.Get("limit"))
		_, _ = w.Write([]byte(`{"notifications":[{"id":"n1","type":"bed_available","priority":"medium","title":"Lit libre","createdAt":"2026-03-01T09:00:00Z"}]}`))
	})

	list, err := c.List(context.Background(), models.NotificationFilters{
		Types:    []models.NotificationType{models.NotificationTypeBedAvailable, models.NotificationTypeReminder},
		IsRead:   &read,
		DateFrom: &from,
		Limit:    25,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
}

func TestMutationsAndStatusErrors(t *testing.T) {
	var gotMark models.MarkReadRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/notifications/read":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMark))
			_, _ = w.Write([]byte(`{"updated":1}`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/notifications/read-all":
			http.Error(w, "boom", http.StatusInternalServerError)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/notifications/gone":
			http.Error(w, "not found", http.StatusNotFound)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	require.NoError(t, c.MarkRead(context.Background(), []string{"n1"}, true))
	assert.Equal(t, models.MarkReadRequest{NotificationIDs: []string{"n1"}, IsRead: true}, gotMark)

	err := c.MarkAllRead(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.False(t, IsNotFound(err))

	assert.NoError(t, c.Delete(context.Background(), "n1"))
	assert.True(t, IsNotFound(c.Delete(context.Background(), "gone")))
}

func TestStatsSendAndPreferences(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/notifications/stats":
			_, _ = w.Write([]byte(`{"total":2,"unread":1,"byType":{"system":2},"byPriority":{"low":2}}`))
		case "/api/notifications":
			var req models.SendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"notifications": []models.Notification{{ID: "n1", Type: req.Type, Title: req.Title}},
			})
		case "/api/notifications/preferences":
			if r.Method == http.MethodGet {
				_ = json.NewEncoder(w).Encode(models.DefaultPreferences("u1"))
				return
			}
			var prefs models.NotificationPreferences
			require.NoError(t, json.NewDecoder(r.Body).Decode(&prefs))
			_ = json.NewEncoder(w).Encode(prefs)
		}
	})

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByType[models.NotificationTypeSystem])
	assert.Equal(t, 0, stats.ByType[models.NotificationTypeReminder])

	sent, err := c.Send(context.Background(), models.SendRequest{Type: models.NotificationTypeReminder, Title: "Tournée"})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "Tournée", sent[0].Title)

	prefs, err := c.GetPreferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", prefs.UserID)

	prefs.EnableSound = false
	saved, err := c.UpdatePreferences(context.Background(), prefs)
	require.NoError(t, err)
	assert.False(t, saved.EnableSound)
}
