package models

import (
	"encoding/json"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeMessage          MessageType = "Message"
	MessageTypeRequest          MessageType = "Request"
	MessageTypeResponseAccepted MessageType = "Response - Accepted"
	MessageTypeResponseBlocked  MessageType = "Response - Blocked"
	MessageTypeResponseRejected MessageType = "Response - Rejected"
	MessageTypeAsk              MessageType = "Ask"
)

// IsResponse reports whether t answers a prior Request.
func (t MessageType) IsResponse() bool {
	return strings.HasPrefix(string(t), "Response")
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeMessage, MessageTypeRequest, MessageTypeResponseAccepted,
		MessageTypeResponseBlocked, MessageTypeResponseRejected, MessageTypeAsk:
		return true
	}
	return false
}

type ReadStatus string

const (
	StatusRead   ReadStatus = "Read"
	StatusUnread ReadStatus = "Unread"
)

// Message is a direct message between two principals.
type Message struct {
	ID           int64           `json:"id"`
	UserSourceID int64           `json:"user_source_id"`
	UserDestID   int64           `json:"user_destination_id"`
	UserStatusID *int64          `json:"user_status_id,omitempty"`
	MasterTellID *int64          `json:"master_tell_id,omitempty"`
	Type         MessageType     `json:"type"`
	Contents     string          `json:"contents"`
	Status       ReadStatus      `json:"status"`
	Attachments  json.RawMessage `json:"attachments,omitempty"`
	InsertedAt   time.Time       `json:"inserted_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
