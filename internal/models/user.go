package models

import "time"

// UserType distinguishes root, network and regular principals.
type UserType string

const (
	UserTypeRoot    UserType = "Root"
	UserTypeNetwork UserType = "Network"
	UserTypeRegular UserType = "Regular"
)

// Principal is an identified end user.
type Principal struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // argon2id; the session token digest is keyed over this
	Type         UserType  `json:"type"`
	IsSignedIn   bool      `json:"is_signed_in"`
	IsVerified   bool      `json:"is_verified"`
	PhotoURL     string    `json:"photo_original,omitempty"`
	InsertedAt   time.Time `json:"inserted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
