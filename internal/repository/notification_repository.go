package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/his-notify/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Audience identifies the user a query runs for. Rows are visible when they
// target the user (or everyone) and their role set is empty or shares a role.
type Audience struct {
	UserID string
	Roles  []models.UserRole
}

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	List(ctx context.Context, audience Audience, filters models.NotificationFilters) ([]models.Notification, error)
	Stats(ctx context.Context, audience Audience) (models.NotificationStats, error)
	MarkRead(ctx context.Context, audience Audience, ids []string, isRead bool) (int64, error)
	MarkAllRead(ctx context.Context, audience Audience) (int64, error)
	Delete(ctx context.Context, audience Audience, id string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	TrimHistory(ctx context.Context, keepPerUser int) (int64, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	UserID    string
	UserRoles []models.UserRole
	Type      models.NotificationType
	Priority  models.NotificationPriority
	Title     string
	Message   string
	IsSystem  bool
	ActionURL string
	Metadata  map[string]interface{}
	ExpiresAt *time.Time
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, user_id, user_roles, type, priority, title, message, is_read, is_system, action_url, metadata, created_at, expires_at`

const visibleClause = `(user_id = $1 OR user_id = 'all') AND (cardinality(user_roles) = 0 OR user_roles && $2::text[])`

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	query := `
		INSERT INTO notify.notifications (user_id, user_roles, type, priority, title, message, is_system, action_url, metadata, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + notificationColumns

	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		userID = models.BroadcastUserID
	}

	var actionURL interface{}
	if u := strings.TrimSpace(params.ActionURL); u != "" {
		actionURL = u
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = bytes
	}

	var expiresAt interface{}
	if params.ExpiresAt != nil {
		expiresAt = *params.ExpiresAt
	}

	row := r.db.QueryRowContext(ctx, query,
		userID,
		pq.Array(models.RoleStrings(params.UserRoles)),
		params.Type,
		params.Priority,
		params.Title,
		params.Message,
		params.IsSystem,
		actionURL,
		metadata,
		expiresAt,
	)
	notif, err := scanNotification(row)
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "insert notification")
	}
	return notif, nil
}

func (r *notificationRepository) List(ctx context.Context, audience Audience, filters models.NotificationFilters) ([]models.Notification, error) {
	query, args := buildListQuery(audience, filters)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func buildListQuery(audience Audience, f models.NotificationFilters) (string, []interface{}) {
	args := []interface{}{strings.TrimSpace(audience.UserID), pq.Array(models.RoleStrings(audience.Roles))}
	where := []string{visibleClause}

	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Types) > 0 {
		types := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			types = append(types, string(t))
		}
		where = append(where, "type = ANY("+next(pq.Array(types))+")")
	}
	if len(f.Priorities) > 0 {
		prios := make([]string, 0, len(f.Priorities))
		for _, p := range f.Priorities {
			prios = append(prios, string(p))
		}
		where = append(where, "priority = ANY("+next(pq.Array(prios))+")")
	}
	if f.IsRead != nil {
		where = append(where, "is_read = "+next(*f.IsRead))
	}
	if f.DateFrom != nil {
		where = append(where, "created_at >= "+next(*f.DateFrom))
	}
	if f.DateTo != nil {
		where = append(where, "created_at <= "+next(*f.DateTo))
	}
	if !f.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > NOW())")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + notificationColumns + `
		FROM notify.notifications
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
		LIMIT ` + next(limit) + ` OFFSET ` + next(offset)
	return query, args
}

func (r *notificationRepository) Stats(ctx context.Context, audience Audience) (models.NotificationStats, error) {
	query := `
		SELECT type, priority, is_read, COUNT(*)
		FROM notify.notifications
		WHERE ` + visibleClause + ` AND (expires_at IS NULL OR expires_at > NOW())
		GROUP BY type, priority, is_read`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(audience.UserID), pq.Array(models.RoleStrings(audience.Roles)))
	if err != nil {
		return models.NotificationStats{}, errors.Wrap(err, "query notification stats")
	}
	defer rows.Close()

	stats := models.NewNotificationStats()
	for rows.Next() {
		var (
			typ      models.NotificationType
			priority models.NotificationPriority
			isRead   bool
			count    int
		)
		if err := rows.Scan(&typ, &priority, &isRead, &count); err != nil {
			return models.NotificationStats{}, err
		}
		stats.Total += count
		if !isRead {
			stats.Unread += count
		}
		stats.ByType[typ] += count
		stats.ByPriority[priority] += count
	}
	if err := rows.Err(); err != nil {
		return models.NotificationStats{}, err
	}
	return stats, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, audience Audience, ids []string, isRead bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE notify.notifications
		SET is_read = $3
		WHERE ` + visibleClause + ` AND id::text = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(audience.UserID), pq.Array(models.RoleStrings(audience.Roles)), isRead, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "mark notifications read")
	}
	return res.RowsAffected()
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, audience Audience) (int64, error) {
	query := `
		UPDATE notify.notifications
		SET is_read = TRUE
		WHERE ` + visibleClause + ` AND is_read = FALSE`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(audience.UserID), pq.Array(models.RoleStrings(audience.Roles)))
	if err != nil {
		return 0, errors.Wrap(err, "mark all notifications read")
	}
	return res.RowsAffected()
}

// Delete removes a visible notification. Deleting an unknown id affects zero rows and is not an error.
func (r *notificationRepository) Delete(ctx context.Context, audience Audience, id string) (int64, error) {
	query := `
		DELETE FROM notify.notifications
		WHERE ` + visibleClause + ` AND id::text = $3`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(audience.UserID), pq.Array(models.RoleStrings(audience.Roles)), strings.TrimSpace(id))
	if err != nil {
		return 0, errors.Wrap(err, "delete notification")
	}
	return res.RowsAffected()
}

func (r *notificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		DELETE FROM notify.notifications
		WHERE expires_at IS NOT NULL AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired notifications")
	}
	return res.RowsAffected()
}

// TrimHistory keeps the newest keepPerUser notifications of every target user.
func (r *notificationRepository) TrimHistory(ctx context.Context, keepPerUser int) (int64, error) {
	if keepPerUser <= 0 {
		return 0, nil
	}
	const query = `
		DELETE FROM notify.notifications
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC) AS rn
				FROM notify.notifications
			) ranked
			WHERE ranked.rn > $1
		)`
	res, err := r.db.ExecContext(ctx, query, keepPerUser)
	if err != nil {
		return 0, errors.Wrap(err, "trim notification history")
	}
	return res.RowsAffected()
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif       models.Notification
		roles       pq.StringArray
		actionURL   sql.NullString
		metadataRaw []byte
		expiresAt   sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&notif.UserID,
		&roles,
		&notif.Type,
		&notif.Priority,
		&notif.Title,
		&notif.Message,
		&notif.IsRead,
		&notif.IsSystem,
		&actionURL,
		&metadataRaw,
		&notif.CreatedAt,
		&expiresAt,
	); err != nil {
		return models.Notification{}, err
	}

	notif.UserRoles = models.RolesFromStrings(roles)
	if actionURL.Valid {
		notif.ActionURL = actionURL.String
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &notif.Metadata); err != nil {
			return models.Notification{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		notif.ExpiresAt = &t
	}

	return notif, nil
}
