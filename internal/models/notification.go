package models

import (
	"encoding/json"
	"time"
)

// NotificationType is one of the in-app event types A through H.
type NotificationType string

// ValidNotificationType reports whether t is one of A..H.
func ValidNotificationType(t NotificationType) bool {
	return len(t) == 1 && t[0] >= 'A' && t[0] <= 'H'
}

// Notification is an in-app event bound to a recipient.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Type      NotificationType `json:"type"`
	Contents  json.RawMessage  `json:"contents"`
	Status    ReadStatus       `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// NotificationIntent asks the dispatcher to create and deliver a notification.
type NotificationIntent struct {
	UserID   int64            `json:"user_id"`
	Type     NotificationType `json:"type"`
	Contents json.RawMessage  `json:"contents"`
}
