package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/repository"
)

type PreferenceService interface {
	GetPreferences(ctx context.Context, userID string) (models.NotificationPreferences, error)
	UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error)
}

type preferenceService struct {
	repo   repository.PreferencesRepository
	logger zerolog.Logger
}

func NewPreferenceService(repo repository.PreferencesRepository, logger zerolog.Logger) PreferenceService {
	return &preferenceService{
		repo:   repo,
		logger: logger.With().Str("component", "preference_service").Logger(),
	}
}

// GetPreferences returns the stored preferences, persisting defaults the first
// time a user is seen.
func (s *preferenceService) GetPreferences(ctx context.Context, userID string) (models.NotificationPreferences, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.NotificationPreferences{}, validationError(fmt.Errorf("user id is required"))
	}

	prefs, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info().Str("user_id", userID).Msg("creating default preferences")
		return s.repo.Upsert(ctx, models.DefaultPreferences(userID))
	}
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	// rows written before a type existed are completed from defaults
	if err := prefs.Normalize(); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("stored preferences are invalid, using defaults")
		return models.DefaultPreferences(userID), nil
	}
	return prefs, nil
}

func (s *preferenceService) UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	prefs.UserID = strings.TrimSpace(prefs.UserID)
	if prefs.UserID == "" {
		return models.NotificationPreferences{}, validationError(fmt.Errorf("user id is required"))
	}
	if err := prefs.Normalize(); err != nil {
		return models.NotificationPreferences{}, validationError(err)
	}
	saved, err := s.repo.Upsert(ctx, prefs)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", prefs.UserID).Msg("failed to save preferences")
		return models.NotificationPreferences{}, err
	}
	return saved, nil
}
