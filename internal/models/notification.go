package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BroadcastUserID targets every user.
const BroadcastUserID = "all"

type NotificationType string

const (
	NotificationTypeAdmissionRequest   NotificationType = "admission_request"
	NotificationTypeAdmissionValidated NotificationType = "admission_validated"
	NotificationTypeAdmissionRejected  NotificationType = "admission_rejected"
	NotificationTypePatientAdmitted    NotificationType = "patient_admitted"
	NotificationTypePatientDischarged  NotificationType = "patient_discharged"
	NotificationTypeBedAvailable       NotificationType = "bed_available"
	NotificationTypeUrgentRequest      NotificationType = "urgent_request"
	NotificationTypeSystem             NotificationType = "system"
	NotificationTypeReminder           NotificationType = "reminder"
)

// AllNotificationTypes lists every member of the closed type enumeration.
func AllNotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationTypeAdmissionRequest,
		NotificationTypeAdmissionValidated,
		NotificationTypeAdmissionRejected,
		NotificationTypePatientAdmitted,
		NotificationTypePatientDischarged,
		NotificationTypeBedAvailable,
		NotificationTypeUrgentRequest,
		NotificationTypeSystem,
		NotificationTypeReminder,
	}
}

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeAdmissionRequest,
		NotificationTypeAdmissionValidated,
		NotificationTypeAdmissionRejected,
		NotificationTypePatientAdmitted,
		NotificationTypePatientDischarged,
		NotificationTypeBedAvailable,
		NotificationTypeUrgentRequest,
		NotificationTypeSystem,
		NotificationTypeReminder:
		return true
	}
	return false
}

// Label returns the display label for the type.
func (t NotificationType) Label() string {
	switch t {
	case NotificationTypeAdmissionRequest:
		return "Demande d'admission"
	case NotificationTypeAdmissionValidated:
		return "Admission validée"
	case NotificationTypeAdmissionRejected:
		return "Admission refusée"
	case NotificationTypePatientAdmitted:
		return "Patient admis"
	case NotificationTypePatientDischarged:
		return "Patient sorti"
	case NotificationTypeBedAvailable:
		return "Lit disponible"
	case NotificationTypeUrgentRequest:
		return "Demande urgente"
	case NotificationTypeSystem:
		return "Système"
	case NotificationTypeReminder:
		return "Rappel"
	}
	return string(t)
}

// Icon returns the icon name the presentation layer renders for the type.
func (t NotificationType) Icon() string {
	switch t {
	case NotificationTypeAdmissionRequest:
		return "person_add"
	case NotificationTypeAdmissionValidated:
		return "check_circle"
	case NotificationTypeAdmissionRejected:
		return "cancel"
	case NotificationTypePatientAdmitted:
		return "local_hospital"
	case NotificationTypePatientDischarged:
		return "exit_to_app"
	case NotificationTypeBedAvailable:
		return "hotel"
	case NotificationTypeUrgentRequest:
		return "warning"
	case NotificationTypeSystem:
		return "settings"
	case NotificationTypeReminder:
		return "schedule"
	}
	return "notifications"
}

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// AllPriorities lists priorities from lowest to highest.
func AllPriorities() []NotificationPriority {
	return []NotificationPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

func (p NotificationPriority) IsValid() bool {
	return p.Rank() >= 0
}

// Rank is the display weight of the priority; -1 for unknown values.
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return -1
}

// AtLeast reports whether p weighs at least as much as min.
func (p NotificationPriority) AtLeast(min NotificationPriority) bool {
	return p.Rank() >= min.Rank()
}

func (p NotificationPriority) Color() string {
	switch p {
	case PriorityLow:
		return "default"
	case PriorityMedium:
		return "info"
	case PriorityHigh:
		return "warning"
	case PriorityUrgent:
		return "error"
	}
	return "default"
}

// SoundAsset is the audio cue played for notifications of this priority.
func (p NotificationPriority) SoundAsset() string {
	switch p {
	case PriorityLow, PriorityMedium:
		return "/sounds/notification-default.mp3"
	case PriorityHigh:
		return "/sounds/notification-high.mp3"
	case PriorityUrgent:
		return "/sounds/notification-urgent.mp3"
	}
	return "/sounds/notification-default.mp3"
}

type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Priority  NotificationPriority   `json:"priority"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	UserID    string                 `json:"userId"`
	UserRoles []UserRole             `json:"userRoles"`
	IsRead    bool                   `json:"isRead"`
	IsSystem  bool                   `json:"isSystem"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	ActionURL string                 `json:"actionUrl,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IsBroadcast reports whether the notification targets every user.
func (n Notification) IsBroadcast() bool {
	return n.UserID == "" || n.UserID == BroadcastUserID
}

// Expired reports whether the notification is past its expiry at now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// VisibleTo applies the targeting rules: the user must be the target (or the
// notification a broadcast) and share a role with it when roles are set.
func (n Notification) VisibleTo(userID string, roles []UserRole) bool {
	if !n.IsBroadcast() && n.UserID != userID {
		return false
	}
	return MatchesRoles(n.UserRoles, roles)
}

// MatchesRoles is true when target is empty or intersects have.
func MatchesRoles(target, have []UserRole) bool {
	if len(target) == 0 {
		return true
	}
	for _, t := range target {
		for _, h := range have {
			if t == h {
				return true
			}
		}
	}
	return false
}

// NotificationFilters is the query accepted by the list operation.
type NotificationFilters struct {
	Types          []NotificationType     `json:"type,omitempty"`
	Priorities     []NotificationPriority `json:"priority,omitempty"`
	IsRead         *bool                  `json:"isRead,omitempty"`
	DateFrom       *time.Time             `json:"dateFrom,omitempty"`
	DateTo         *time.Time             `json:"dateTo,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	Offset         int                    `json:"offset,omitempty"`
	IncludeExpired bool                   `json:"includeExpired,omitempty"`
}

type NotificationStats struct {
	Total      int                          `json:"total"`
	Unread     int                          `json:"unread"`
	ByType     map[NotificationType]int     `json:"byType"`
	ByPriority map[NotificationPriority]int `json:"byPriority"`
}

// NewNotificationStats returns zeroed stats with every type and priority present.
func NewNotificationStats() NotificationStats {
	stats := NotificationStats{
		ByType:     make(map[NotificationType]int, len(AllNotificationTypes())),
		ByPriority: make(map[NotificationPriority]int, len(AllPriorities())),
	}
	for _, t := range AllNotificationTypes() {
		stats.ByType[t] = 0
	}
	for _, p := range AllPriorities() {
		stats.ByPriority[p] = 0
	}
	return stats
}

// ComputeStats derives aggregate counts from a list.
func ComputeStats(notifications []Notification) NotificationStats {
	stats := NewNotificationStats()
	for _, n := range notifications {
		stats.Total++
		if !n.IsRead {
			stats.Unread++
		}
		stats.ByType[n.Type]++
		stats.ByPriority[n.Priority]++
	}
	return stats
}

var ErrInvalidNotification = errors.New("invalid notification")

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidNotification, fmt.Sprintf(format, args...))
}

// SendRequest is the origin-side payload that creates notifications.
type SendRequest struct {
	Type        NotificationType       `json:"type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Priority    NotificationPriority   `json:"priority"`
	TargetUsers []string               `json:"targetUsers,omitempty"`
	TargetRoles []UserRole             `json:"targetRoles,omitempty"`
	ActionURL   string                 `json:"actionUrl,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
	IsSystem    bool                   `json:"isSystem,omitempty"`
}

// Validate trims the request and checks its enumerations.
func (r *SendRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Message = strings.TrimSpace(r.Message)
	if !r.Type.IsValid() {
		return errorf("unknown notification type %q", r.Type)
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if !r.Priority.IsValid() {
		return errorf("unknown priority %q", r.Priority)
	}
	if r.Title == "" {
		return errorf("title is required")
	}
	for _, role := range r.TargetRoles {
		if !IsValidRole(role) {
			return errorf("unknown role %q", role)
		}
	}
	if r.Type == NotificationTypeSystem {
		r.IsSystem = true
	}
	return nil
}

type MarkReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
	IsRead          bool     `json:"isRead"`
}
