package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPreferences = errors.New("invalid notification preferences")

type TypePreference struct {
	Enabled  bool                 `json:"enabled"`
	Priority NotificationPriority `json:"priority"`
}

// NotificationPreferences holds one user's channel toggles and per-type settings.
// Types is total over AllNotificationTypes once built by DefaultPreferences or Normalize.
type NotificationPreferences struct {
	UserID      string                              `json:"userId"`
	EnablePush  bool                                `json:"enablePush"`
	EnableEmail bool                                `json:"enableEmail"`
	EnableSound bool                                `json:"enableSound"`
	Types       map[NotificationType]TypePreference `json:"types"`
	UpdatedAt   time.Time                           `json:"updatedAt"`
}

// DefaultTypePriority is the priority a type is treated with when the user never chose one.
func DefaultTypePriority(t NotificationType) NotificationPriority {
	switch t {
	case NotificationTypeUrgentRequest:
		return PriorityUrgent
	case NotificationTypeAdmissionRequest, NotificationTypeAdmissionRejected:
		return PriorityHigh
	case NotificationTypeAdmissionValidated, NotificationTypePatientAdmitted,
		NotificationTypePatientDischarged, NotificationTypeBedAvailable:
		return PriorityMedium
	case NotificationTypeSystem, NotificationTypeReminder:
		return PriorityLow
	}
	return PriorityLow
}

func DefaultPreferences(userID string) NotificationPreferences {
	types := make(map[NotificationType]TypePreference, len(AllNotificationTypes()))
	for _, t := range AllNotificationTypes() {
		types[t] = TypePreference{Enabled: true, Priority: DefaultTypePriority(t)}
	}
	return NotificationPreferences{
		UserID:      userID,
		EnablePush:  true,
		EnableEmail: false,
		EnableSound: true,
		Types:       types,
	}
}

// Normalize fills types missing from the map with their defaults and rejects
// unknown types or priorities.
func (p *NotificationPreferences) Normalize() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidPreferences)
	}
	if p.Types == nil {
		p.Types = make(map[NotificationType]TypePreference, len(AllNotificationTypes()))
	}
	for t, pref := range p.Types {
		if !t.IsValid() {
			return fmt.Errorf("%w: unknown notification type %q", ErrInvalidPreferences, t)
		}
		if pref.Priority == "" {
			pref.Priority = DefaultTypePriority(t)
			p.Types[t] = pref
		}
		if !pref.Priority.IsValid() {
			return fmt.Errorf("%w: unknown priority %q for %s", ErrInvalidPreferences, pref.Priority, t)
		}
	}
	for _, t := range AllNotificationTypes() {
		if _, ok := p.Types[t]; !ok {
			p.Types[t] = TypePreference{Enabled: true, Priority: DefaultTypePriority(t)}
		}
	}
	return nil
}

// Allows reports whether notifications of type t are enabled. Unknown types are not.
func (p NotificationPreferences) Allows(t NotificationType) bool {
	pref, ok := p.Types[t]
	return ok && pref.Enabled
}

// EffectivePriority returns the priority the user configured for the
// notification's type, never lower than the notification's own priority.
func (p NotificationPreferences) EffectivePriority(n Notification) NotificationPriority {
	pref, ok := p.Types[n.Type]
	if !ok || !pref.Priority.AtLeast(n.Priority) {
		return n.Priority
	}
	return pref.Priority
}
