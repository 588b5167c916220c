package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// ValidateMessage checks the invariants of a new message. hasRequest
// reports whether a Request already exists between the pair.
func ValidateMessage(m *models.Message, hasRequest bool) error {
	if m.UserSourceID == m.UserDestID {
		return apperr.E(apperr.Invalid, "source and destination must differ")
	}
	if !m.Type.Valid() {
		return apperr.E(apperr.Invalid, "unknown message type %q", m.Type)
	}
	if m.Type.IsResponse() && !hasRequest {
		return apperr.E(apperr.Conflict, "a response requires a prior request")
	}
	if len(m.Attachments) > 0 {
		var list []json.RawMessage
		if err := json.Unmarshal(m.Attachments, &list); err != nil {
			return apperr.E(apperr.Invalid, "attachments must be a JSON list")
		}
	}
	return nil
}

// CreateMessage validates and inserts m.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.serializable(ctx, "create message", func(tx *sql.Tx) error {
		var hasRequest bool
		if m.Type.IsResponse() {
			err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(
					SELECT 1 FROM api_messages WHERE type = 'Request' AND (
						(user_source_id = $1 AND user_destination_id = $2) OR
						(user_source_id = $2 AND user_destination_id = $1))
				)
			`, m.UserSourceID, m.UserDestID).Scan(&hasRequest)
			if err != nil {
				return err
			}
		}
		if err := ValidateMessage(m, hasRequest); err != nil {
			return err
		}

		var attachments []byte
		if len(m.Attachments) > 0 {
			attachments = []byte(m.Attachments)
		}
		m.Status = models.StatusUnread
		return tx.QueryRowContext(ctx, `
			INSERT INTO api_messages (user_source_id, user_destination_id, user_status_id, master_tell_id,
				type, contents, status, attachments)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, inserted_at, updated_at
		`, m.UserSourceID, m.UserDestID, nullInt64(m.UserStatusID), nullInt64(m.MasterTellID),
			m.Type, m.Contents, m.Status, attachments).Scan(&m.ID, &m.InsertedAt, &m.UpdatedAt)
	})
}
