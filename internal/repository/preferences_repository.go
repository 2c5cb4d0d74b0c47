package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/his-notify/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type PreferencesRepository interface {
	Get(ctx context.Context, userID string) (models.NotificationPreferences, error)
	Upsert(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error)
}

type preferencesRepository struct {
	db *sql.DB
}

func NewPreferencesRepository(db *sql.DB) PreferencesRepository {
	return &preferencesRepository{db: db}
}

func (r *preferencesRepository) Get(ctx context.Context, userID string) (models.NotificationPreferences, error) {
	const query = `
		SELECT user_id, enable_push, enable_email, enable_sound, types, updated_at
		FROM notify.notification_preferences
		WHERE user_id = $1`

	prefs, err := scanPreferences(r.db.QueryRowContext(ctx, query, strings.TrimSpace(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotificationPreferences{}, ErrNotFound
	}
	if err != nil {
		return models.NotificationPreferences{}, errors.Wrap(err, "get notification preferences")
	}
	return prefs, nil
}

// Upsert inserts the preferences or replaces the existing row for the same user.
func (r *preferencesRepository) Upsert(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	const query = `
		INSERT INTO notify.notification_preferences (user_id, enable_push, enable_email, enable_sound, types, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			enable_push = EXCLUDED.enable_push,
			enable_email = EXCLUDED.enable_email,
			enable_sound = EXCLUDED.enable_sound,
			types = EXCLUDED.types,
			updated_at = NOW()
		RETURNING user_id, enable_push, enable_email, enable_sound, types, updated_at`

	types, err := json.Marshal(prefs.Types)
	if err != nil {
		return models.NotificationPreferences{}, errors.Wrap(err, "marshal preference types")
	}

	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(prefs.UserID), prefs.EnablePush, prefs.EnableEmail, prefs.EnableSound, types)
	saved, err := scanPreferences(row)
	if err != nil {
		return models.NotificationPreferences{}, errors.Wrap(err, "upsert notification preferences")
	}
	return saved, nil
}

func scanPreferences(scanner interface {
	Scan(dest ...interface{}) error
}) (models.NotificationPreferences, error) {
	var (
		prefs    models.NotificationPreferences
		typesRaw []byte
	)
	if err := scanner.Scan(
		&prefs.UserID,
		&prefs.EnablePush,
		&prefs.EnableEmail,
		&prefs.EnableSound,
		&typesRaw,
		&prefs.UpdatedAt,
	); err != nil {
		return models.NotificationPreferences{}, err
	}
	if len(typesRaw) > 0 {
		if err := json.Unmarshal(typesRaw, &prefs.Types); err != nil {
			return models.NotificationPreferences{}, errors.Wrap(err, "unmarshal preference types")
		}
	}
	return prefs, nil
}
