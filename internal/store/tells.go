package store

import (
	"context"
	"database/sql"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// Renumber checks that order is a permutation of current and returns the
// 1-based position of every id.
func Renumber(current, order []int64) (map[int64]int, error) {
	if len(current) != len(order) {
		return nil, apperr.E(apperr.Conflict, "positions: expected %d ids, got %d", len(current), len(order))
	}
	known := make(map[int64]bool, len(current))
	for _, id := range current {
		known[id] = true
	}
	positions := make(map[int64]int, len(order))
	for i, id := range order {
		if !known[id] {
			return nil, apperr.E(apperr.Conflict, "positions: id %d does not belong here", id)
		}
		if _, dup := positions[id]; dup {
			return nil, apperr.E(apperr.Conflict, "positions: id %d listed twice", id)
		}
		positions[id] = i + 1
	}
	return positions, nil
}

// CreateMasterTell appends a master tell at position N+1.
func (s *Store) CreateMasterTell(ctx context.Context, t *models.MasterTell) error {
	return s.serializable(ctx, "create master tell", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO api_master_tells (created_by_id, owned_by_id, contents, position, is_visible)
			VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position), 0) + 1 FROM api_master_tells WHERE owned_by_id = $2), $4)
			RETURNING id, position, inserted_at, updated_at
		`, t.CreatedByID, t.OwnedByID, t.Contents, t.IsVisible).Scan(&t.ID, &t.Position, &t.InsertedAt, &t.UpdatedAt)
	})
}

// CreateSlaveTell appends a slave tell at position N+1 of its master.
func (s *Store) CreateSlaveTell(ctx context.Context, t *models.SlaveTell) error {
	return s.serializable(ctx, "create slave tell", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO api_slave_tells (master_tell_id, created_by_id, owned_by_id, photo, first_name,
				last_name, type, contents, description, is_editable, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				(SELECT COALESCE(MAX(position), 0) + 1 FROM api_slave_tells WHERE master_tell_id = $1))
			RETURNING id, position, inserted_at, updated_at
		`, t.MasterTellID, t.CreatedByID, t.OwnedByID, t.Photo, t.FirstName, t.LastName, t.Type,
			t.Contents, t.Description, t.IsEditable).Scan(&t.ID, &t.Position, &t.InsertedAt, &t.UpdatedAt)
	})
}

// ReorderMasterTells sets the order of ownerID's master tells.
func (s *Store) ReorderMasterTells(ctx context.Context, ownerID int64, order []int64) error {
	return s.reorder(ctx, "reorder master tells",
		`SELECT id FROM api_master_tells WHERE owned_by_id = $1 ORDER BY position, id FOR UPDATE`,
		`UPDATE api_master_tells SET position = $2, updated_at = NOW() WHERE id = $1`,
		ownerID, order)
}

// ReorderSlaveTells sets the order of a master tell's children. The
// caller must own the master tell.
func (s *Store) ReorderSlaveTells(ctx context.Context, ownerID, masterTellID int64, order []int64) error {
	if err := s.checkMasterOwner(ctx, ownerID, masterTellID); err != nil {
		return err
	}
	return s.reorder(ctx, "reorder slave tells",
		`SELECT id FROM api_slave_tells WHERE master_tell_id = $1 ORDER BY position, id FOR UPDATE`,
		`UPDATE api_slave_tells SET position = $2, updated_at = NOW() WHERE id = $1`,
		masterTellID, order)
}

// DeleteSlaveTell removes a child and closes the gap in positions.
func (s *Store) DeleteSlaveTell(ctx context.Context, ownerID, id int64) error {
	return s.serializable(ctx, "delete slave tell", func(tx *sql.Tx) error {
		var masterID int64
		err := tx.QueryRowContext(ctx, `
			DELETE FROM api_slave_tells WHERE id = $1 AND owned_by_id = $2 RETURNING master_tell_id
		`, id, ownerID).Scan(&masterID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE api_slave_tells t SET position = r.rn
			FROM (
				SELECT id, ROW_NUMBER() OVER (ORDER BY position, id) AS rn
				FROM api_slave_tells WHERE master_tell_id = $1
			) r
			WHERE t.id = r.id AND t.position <> r.rn
		`, masterID)
		return err
	})
}

func (s *Store) checkMasterOwner(ctx context.Context, ownerID, masterTellID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT owned_by_id FROM api_master_tells WHERE id = $1`, masterTellID).Scan(&owner)
	if err != nil {
		return mapErr("get master tell", err)
	}
	if owner != ownerID {
		return apperr.E(apperr.PermissionDenied, "master tell belongs to another user")
	}
	return nil
}

func (s *Store) reorder(ctx context.Context, op, selectQuery, updateQuery string, parentID int64, order []int64) error {
	return s.serializable(ctx, op, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectQuery, parentID)
		if err != nil {
			return err
		}
		var current []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			current = append(current, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		positions, err := Renumber(current, order)
		if err != nil {
			return err
		}
		for id, pos := range positions {
			if _, err := tx.ExecContext(ctx, updateQuery, id, pos); err != nil {
				return err
			}
		}
		return nil
	})
}
