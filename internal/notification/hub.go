package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/repository"
)

const (
	sessionBuffer = 64
	writeWait     = 10 * time.Second
)

// Hub pushes notifications to connected websocket sessions.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*session
	pingInterval time.Duration
	logger       zerolog.Logger
}

type session struct {
	id       string
	audience repository.Audience
	send     chan models.Notification
	done     chan struct{}
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func NewHub(pingInterval time.Duration, logger zerolog.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		sessions:     make(map[string]*session),
		pingInterval: pingInterval,
		logger:       logger.With().Str("component", "hub").Logger(),
	}
}

// Notify queues notif for every session it is visible to. A session whose
// buffer is full misses the notification; clients recover it on their next fetch.
func (h *Hub) Notify(_ context.Context, notif models.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		if !notif.VisibleTo(s.audience.UserID, s.audience.Roles) {
			continue
		}
		select {
		case s.send <- notif:
		default:
			h.logger.Warn().
				Str("session_id", s.id).
				Str("notification_id", notif.ID).
				Msg("session buffer full, dropping notification")
		}
	}
	return nil
}

// Serve registers conn for audience and blocks until the connection closes or
// ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, audience repository.Audience) {
	s := &session{
		id:       uuid.NewString(),
		audience: audience,
		send:     make(chan models.Notification, sessionBuffer),
		done:     make(chan struct{}),
	}
	h.register(s)
	defer h.unregister(s)
	defer conn.Close()

	logger := h.logger.With().Str("session_id", s.id).Str("user_id", audience.UserID).Logger()
	logger.Info().Msg("session opened")

	go h.readLoop(conn, s, logger)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-s.done:
			logger.Info().Msg("session closed")
			return
		case notif := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(notif); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// closes the session when the peer goes away.
func (h *Hub) readLoop(conn *websocket.Conn, s *session, logger zerolog.Logger) {
	defer s.close()

	deadline := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.id)
	s.close()
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll ends every open session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.close()
	}
}

func (h *Hub) String() string {
	return "Hub"
}
