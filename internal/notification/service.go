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

// ErrValidation marks errors caused by the caller's input.
var ErrValidation = errors.New("validation failed")

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

type Service interface {
	Send(ctx context.Context, req models.SendRequest) ([]models.Notification, error)
	List(ctx context.Context, audience repository.Audience, filters models.NotificationFilters) ([]models.Notification, error)
	Stats(ctx context.Context, audience repository.Audience) (models.NotificationStats, error)
	MarkRead(ctx context.Context, audience repository.Audience, ids []string, isRead bool) (int64, error)
	MarkAllRead(ctx context.Context, audience repository.Audience) (int64, error)
	Delete(ctx context.Context, audience repository.Audience, id string) error
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

// Send persists one notification per target user, or a single broadcast when
// no users are targeted, and hands each to the notifiers.
func (s *service) Send(ctx context.Context, req models.SendRequest) ([]models.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	targets := uniqueUsers(req.TargetUsers)
	if len(targets) == 0 {
		targets = []string{models.BroadcastUserID}
	}

	created := make([]models.Notification, 0, len(targets))
	for _, userID := range targets {
		notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
			UserID:    userID,
			UserRoles: models.NormalizeRoles(req.TargetRoles),
			Type:      req.Type,
			Priority:  req.Priority,
			Title:     req.Title,
			Message:   req.Message,
			IsSystem:  req.IsSystem,
			ActionURL: strings.TrimSpace(req.ActionURL),
			Metadata:  req.Metadata,
			ExpiresAt: req.ExpiresAt,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(req.Type)).Str("user_id", userID).Msg("failed to persist notification")
			return created, err
		}
		s.dispatch(ctx, notif)
		created = append(created, notif)
	}

	s.logger.Info().
		Str("type", string(req.Type)).
		Str("priority", string(req.Priority)).
		Int("count", len(created)).
		Msg("notifications sent")
	return created, nil
}

func (s *service) dispatch(ctx context.Context, notif models.Notification) {
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
}

func (s *service) List(ctx context.Context, audience repository.Audience, filters models.NotificationFilters) ([]models.Notification, error) {
	for _, t := range filters.Types {
		if !t.IsValid() {
			return nil, validationError(fmt.Errorf("unknown notification type %q", t))
		}
	}
	for _, p := range filters.Priorities {
		if !p.IsValid() {
			return nil, validationError(fmt.Errorf("unknown priority %q", p))
		}
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		return nil, validationError(fmt.Errorf("dateTo precedes dateFrom"))
	}
	if filters.Limit < 0 || filters.Offset < 0 {
		return nil, validationError(fmt.Errorf("limit and offset must not be negative"))
	}
	return s.repo.List(ctx, audience, filters)
}

func (s *service) Stats(ctx context.Context, audience repository.Audience) (models.NotificationStats, error) {
	return s.repo.Stats(ctx, audience)
}

func (s *service) MarkRead(ctx context.Context, audience repository.Audience, ids []string, isRead bool) (int64, error) {
	cleaned := uniqueUsers(ids)
	if len(cleaned) == 0 {
		return 0, validationError(fmt.Errorf("notificationIds is required"))
	}
	return s.repo.MarkRead(ctx, audience, cleaned, isRead)
}

func (s *service) MarkAllRead(ctx context.Context, audience repository.Audience) (int64, error) {
	return s.repo.MarkAllRead(ctx, audience)
}

// Delete removes a notification; deleting an unknown id succeeds.
func (s *service) Delete(ctx context.Context, audience repository.Audience, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return validationError(fmt.Errorf("notification id is required"))
	}
	affected, err := s.repo.Delete(ctx, audience, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		s.logger.Debug().Str("notification_id", id).Msg("delete matched no notification")
	}
	return nil
}

// uniqueUsers trims and de-duplicates ids, keeping input order.
func uniqueUsers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
