package store

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

// CreateNotification persists n as Unread and fills its id and timestamp.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	contents := n.Contents
	if len(contents) == 0 {
		contents = json.RawMessage(`{}`)
	}
	n.Status = models.StatusUnread
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_notifications (user_id, type, contents, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, timestamp
	`, n.UserID, n.Type, []byte(contents), n.Status).Scan(&n.ID, &n.Timestamp)
	if err != nil {
		return mapErr("create notification", err)
	}
	n.Contents = contents
	return nil
}

// GetNotification loads a notification by id.
func (s *Store) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	var n models.Notification
	var contents []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, contents, status, timestamp FROM api_notifications WHERE id = $1
	`, id).Scan(&n.ID, &n.UserID, &n.Type, &contents, &n.Status, &n.Timestamp)
	if err != nil {
		return nil, mapErr("get notification", err)
	}
	n.Contents = json.RawMessage(contents)
	return &n, nil
}

// ListUnread returns the newest unread notifications of a principal,
// oldest first.
func (s *Store) ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, contents, status, timestamp FROM (
			SELECT id, user_id, type, contents, status, timestamp
			FROM api_notifications
			WHERE user_id = $1 AND status = 'Unread'
			ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC
	`, userID, limit)
	if err != nil {
		return nil, mapErr("list unread", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var contents []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &contents, &n.Status, &n.Timestamp); err != nil {
			return nil, mapErr("list unread", err)
		}
		n.Contents = json.RawMessage(contents)
		out = append(out, n)
	}
	return out, mapErr("list unread", rows.Err())
}

// MarkRead flips the given notifications of userID to Read.
func (s *Store) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_notifications SET status = 'Read'
		WHERE user_id = $1 AND id = ANY($2) AND status = 'Unread'
	`, userID, pq.Array(ids))
	if err != nil {
		return 0, mapErr("mark read", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
