// Command inbox is a console client for the notification service. It keeps a
// local inbox in sync over REST and the push channel and logs toasts, sounds
// and desktop alerts as they would be shown.
package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/apiclient"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/config"
	"github.com/stanstork/his-notify/internal/inbox"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/realtime"
	"github.com/stanstork/his-notify/internal/toast"
)

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	cfg := config.Load()
	roles := models.RolesFromStrings(cfg.Client.Roles)

	token, err := clientToken(cfg, roles)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to obtain API token")
	}
	api := apiclient.New(cfg.Client.BaseURL, token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefs := &preferenceCache{}
	if p, err := api.GetPreferences(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to load preferences, using defaults")
	} else {
		prefs.set(p)
	}

	transport, err := newTransport(cfg, token, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure push channel")
	}

	opts := inbox.DefaultOptions()
	opts.MaxHistory = cfg.Client.MaxHistory
	opts.DesktopTimeout = cfg.Client.DesktopTimeout
	opts.SoundEnabled = cfg.Client.SoundEnabled
	opts.Preferences = prefs.get
	opts.Sound = inbox.LogSoundPlayer{Logger: logger}
	opts.Desktop = inbox.LogDesktopNotifier{Logger: logger, Grant: inbox.PermissionGranted}
	navigator := inbox.LogNavigator{Logger: logger}
	opts.Navigator = navigator

	store := inbox.New(api, transport, opts, logger)
	defer store.Close()

	queue := toast.NewQueue(toast.Options{
		Roles:       roles,
		AutoHide:    cfg.Client.ToastAutoHide,
		Preferences: prefs.get,
		Marker:      store,
		Navigator:   navigator,
	}, logger)
	queue.OnChange(func(current *models.Notification) {
		if current == nil {
			logger.Debug().Msg("toast closed")
			return
		}
		logger.Info().
			Str("notification_id", current.ID).
			Str("type", string(current.Type)).
			Str("priority", string(current.Priority)).
			Str("color", current.Priority.Color()).
			Str("title", current.Title).
			Msg("toast")
	})
	detach := queue.Attach(store)
	defer detach()

	if err := store.FetchNotifications(ctx, models.NotificationFilters{}); err != nil {
		logger.Error().Err(err).Msg("initial fetch failed")
	}
	if err := store.FetchStats(ctx); err != nil {
		logger.Error().Err(err).Msg("initial stats failed")
	}
	state := store.State()
	logger.Info().Int("notifications", len(state.Notifications)).Int("unread", store.UnreadCount()).Msg("inbox loaded")

	if err := store.ConnectRealTime(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect push channel")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")
	store.DisconnectRealTime()
}

// clientToken returns the configured token, or mints one for the configured
// user when only the signing secret is available.
func clientToken(cfg *config.Config, roles []models.UserRole) (string, error) {
	if cfg.Client.Token != "" {
		return cfg.Client.Token, nil
	}
	if cfg.JWTSecret == "" || cfg.Client.UserID == "" {
		return "", errors.New("client.token, or jwt_secret with client.user_id, must be set")
	}
	return authz.NewAuthenticator(cfg.JWTSecret).IssueToken(cfg.Client.UserID, roles, 12*time.Hour)
}

func newTransport(cfg *config.Config, token string, logger zerolog.Logger) (realtime.Transport, error) {
	if cfg.Realtime.Simulate {
		return realtime.NewSimulatedTransport(realtime.SimulatedOptions{
			Interval:    cfg.Realtime.SimulateInterval,
			Probability: cfg.Realtime.SimulateProbability,
		}, logger), nil
	}
	wsURL, err := streamURL(cfg.Client.BaseURL)
	if err != nil {
		return nil, err
	}
	return realtime.NewWebSocketTransport(realtime.WebSocketOptions{
		URL:               wsURL,
		Token:             token,
		ReadTimeout:       cfg.Realtime.PingInterval * 5 / 2,
		MaxReconnectDelay: cfg.Realtime.MaxReconnectDelay,
	}, logger), nil
}

// streamURL maps the REST base URL to the push endpoint.
func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid client.base_url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	return u.String(), nil
}

type preferenceCache struct {
	mu     sync.RWMutex
	prefs  models.NotificationPreferences
	loaded bool
}

func (c *preferenceCache) set(p models.NotificationPreferences) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs, c.loaded = p, true
}

func (c *preferenceCache) get() (models.NotificationPreferences, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefs, c.loaded
}
