package models

import "time"

// MasterTell is a user's profile card. Positions of a user's master tells
// are a permutation of 1..N.
type MasterTell struct {
	ID          int64     `json:"id"`
	CreatedByID int64     `json:"created_by_id"`
	OwnedByID   int64     `json:"owned_by_id"`
	Contents    string    `json:"contents"`
	Position    int       `json:"position"`
	IsVisible   bool      `json:"is_visible"`
	InsertedAt  time.Time `json:"inserted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SlaveTell is a child content item of a MasterTell.
type SlaveTell struct {
	ID           int64     `json:"id"`
	MasterTellID int64     `json:"master_tell_id"`
	CreatedByID  int64     `json:"created_by_id"`
	OwnedByID    int64     `json:"owned_by_id"`
	Photo        string    `json:"photo,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Type         string    `json:"type"`
	Contents     string    `json:"contents"`
	Description  string    `json:"description,omitempty"`
	IsEditable   bool      `json:"is_editable"`
	Position     int       `json:"position"`
	InsertedAt   time.Time `json:"inserted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
