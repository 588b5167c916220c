package models

import "time"

// Platform is a push provider.
type Platform string

const (
	PlatformAPNS Platform = "APNS"
	PlatformGCM  Platform = "GCM"
)

// Device is a push registration. (platform, registration_id) is unique
// across principals; registering again reassigns the row.
type Device struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Platform       Platform  `json:"platform"`
	Name           string    `json:"name,omitempty"`
	DeviceID       string    `json:"device_id"`
	RegistrationID string    `json:"registration_id"`
	InsertedAt     time.Time `json:"inserted_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PushJob is the payload of a api.tasks.push_notifications task.
type PushJob struct {
	UserID         int64  `json:"user_id"`
	JSON           string `json:"json"`
	DeviceID       int64  `json:"device_id,omitempty"`
	NotificationID int64  `json:"notification_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
