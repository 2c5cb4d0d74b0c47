package activities

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/his-notify/internal/repository"
	"go.temporal.io/sdk/activity"
)

type Activities struct {
	Repo repository.NotificationRepository
}

// PurgeExpiredActivity deletes notifications whose expiry is at or before now.
func (a *Activities) PurgeExpiredActivity(ctx context.Context, now time.Time) (int64, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Purging expired notifications", "now", now)

	purged, err := a.Repo.DeleteExpired(ctx, now)
	if err != nil {
		logger.Error("Failed to purge expired notifications", "error", err)
		return 0, errors.Wrap(err, "failed to purge expired notifications")
	}
	logger.Info("Expired notifications purged", "count", purged)
	return purged, nil
}

// TrimHistoryActivity keeps the newest keepPerUser notifications of each recipient.
func (a *Activities) TrimHistoryActivity(ctx context.Context, keepPerUser int) (int64, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Trimming notification history", "keepPerUser", keepPerUser)

	trimmed, err := a.Repo.TrimHistory(ctx, keepPerUser)
	if err != nil {
		logger.Error("Failed to trim notification history", "error", err)
		return 0, errors.Wrap(err, "failed to trim notification history")
	}
	logger.Info("Notification history trimmed", "count", trimmed)
	return trimmed, nil
}
