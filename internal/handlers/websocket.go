package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/notification"
)

type StreamHandler struct {
	hub      *notification.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewStreamHandler accepts upgrades from allowedOrigins; an empty list accepts
// same-origin requests only.
func NewStreamHandler(hub *notification.Hub, allowedOrigins []string, logger zerolog.Logger) *StreamHandler {
	h := &StreamHandler{
		hub:    hub,
		logger: logger.With().Str("handler", "stream").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return h
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	audience, ok := authz.AudienceFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.hub.Serve(r.Context(), conn, audience)
}
