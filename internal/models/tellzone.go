package models

import (
	"encoding/json"
	"time"
)

type TellzoneStatus string

const (
	TellzoneStatusPublic  TellzoneStatus = "Public"
	TellzoneStatusPrivate TellzoneStatus = "Private"
)

// Tellzone is a named place clients can pin to, favorite or enter.
type Tellzone struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Point     Point           `json:"point"`
	Hours     json.RawMessage `json:"hours,omitempty"`
	Status    TellzoneStatus  `json:"status"`
	UserID    *int64          `json:"user_id,omitempty"` // owner
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// Network groups tellzones.
type Network struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"user_id"`
	Name        string  `json:"name"`
	TellzoneIDs []int64 `json:"tellzones"`
}
