package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/authz"
	"github.com/stanstork/his-notify/internal/config"
	"github.com/stanstork/his-notify/internal/handlers"
	"github.com/stanstork/his-notify/internal/middleware"
	"github.com/stanstork/his-notify/internal/migration"
	"github.com/stanstork/his-notify/internal/notification"
	"github.com/stanstork/his-notify/internal/repository"
	"github.com/stanstork/his-notify/internal/routes"
	"github.com/stanstork/his-notify/internal/temporal"
	"github.com/stanstork/his-notify/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
)

type application struct {
	config          *config.Config
	db              *sql.DB
	logger          zerolog.Logger
	hub             *notification.Hub
	notifications   notification.Service
	preferences     notification.PreferenceService
	temporalClient  tc.Client
	retentionWorker *worker.RetentionWorker
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	cfg := config.Load()
	cfg.RequireServer()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	if err := migration.RunMigrations(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
		hub:    notification.NewHub(cfg.Realtime.PingInterval, logger),
	}
	app.initServices()

	if cfg.Retention.Enabled {
		app.startRetention()
		defer app.temporalClient.Close()
	}

	router := app.initRouter()
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	app.startServer(corsHandler)

	logger.Info().Msg("Application terminated.")
}

func (app *application) initServices() {
	notifiers := []notification.Notifier{app.hub}
	if app.config.Email.Enabled {
		email, err := notification.NewEmailNotifier(app.config.Email, app.logger)
		if err != nil {
			app.logger.Fatal().Err(err).Msg("failed to configure email notifier")
		}
		notifiers = append(notifiers, email)
	}

	notificationRepo := repository.NewNotificationRepository(app.db)
	preferencesRepo := repository.NewPreferencesRepository(app.db)

	app.notifications = notification.NewService(notificationRepo, app.logger, notifiers...)
	app.preferences = notification.NewPreferenceService(preferencesRepo, app.logger)
}

func (app *application) initRouter() http.Handler {
	return routes.NewRouter(routes.Deps{
		Auth:          authz.NewAuthenticator(app.config.JWTSecret),
		Notifications: handlers.NewNotificationHandler(app.notifications, app.logger),
		Preferences:   handlers.NewPreferencesHandler(app.preferences, app.logger),
		Stream:        handlers.NewStreamHandler(app.hub, app.config.AllowedOrigins, app.logger),
		Health:        handlers.HealthCheck(app.db),
	})
}

// startRetention connects to Temporal and schedules the cleanup workflow.
func (app *application) startRetention() {
	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  app.config.Temporal.HostPort,
		Namespace: app.config.Temporal.Namespace,
		Logger:    temporal.NewSDKLogger(app.logger),
	})
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	app.temporalClient = temporalClient

	app.retentionWorker = worker.NewRetentionWorker(
		temporalClient,
		repository.NewNotificationRepository(app.db),
		app.config.Retention,
		app.logger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.retentionWorker.Start(ctx); err != nil {
		app.logger.Fatal().Err(err).Msg("Unable to start retention worker")
	}
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		app.logger.Error().Err(err).Msg("Server error occurred")
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	app.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		app.logger.Info().Msg("HTTP server shutdown complete.")
	}

	if app.retentionWorker != nil {
		app.logger.Info().Msg("Stopping Temporal worker...")
		app.retentionWorker.Stop()
		app.logger.Info().Msg("Temporal worker stopped.")
	}
}
