package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, audience repository.Audience) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(time.Second, zerolog.Nop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, audience)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func TestHubDeliversVisibleNotificationsInOrder(t *testing.T) {
	hub, conn := startHub(t, repository.Audience{UserID: "u1", Roles: []models.UserRole{models.RoleInfirmier}})

	notifs := []models.Notification{
		{ID: "other-user", UserID: "u2", Type: models.NotificationTypeReminder, Priority: models.PriorityLow},
		{ID: "wrong-role", UserID: models.BroadcastUserID, UserRoles: []models.UserRole{models.RoleAdmin}, Type: models.NotificationTypeSystem, Priority: models.PriorityLow},
		{ID: "a", UserID: "u1", Type: models.NotificationTypeBedAvailable, Priority: models.PriorityMedium},
		{ID: "b", UserID: models.BroadcastUserID, UserRoles: []models.UserRole{models.RoleInfirmier}, Type: models.NotificationTypeUrgentRequest, Priority: models.PriorityUrgent},
	}
	for _, n := range notifs {
		require.NoError(t, hub.Notify(context.Background(), n))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []string
	for i := 0; i < 2; i++ {
		var n models.Notification
		require.NoError(t, conn.ReadJSON(&n))
		got = append(got, n.ID)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestHubUnregistersClosedSessions(t *testing.T) {
	hub, conn := startHub(t, repository.Audience{UserID: "u1"})

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseAll(t *testing.T) {
	hub, _ := startHub(t, repository.Audience{UserID: "u1"})

	hub.CloseAll()
	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}
