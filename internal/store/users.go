package store

import (
	"context"
	"database/sql"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

// GetPrincipal loads a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	var p models.Principal
	var photo sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, type, is_signed_in, is_verified, photo_original, inserted_at, updated_at
		FROM api_users WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Type, &p.IsSignedIn, &p.IsVerified, &photo, &p.InsertedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr("get principal", err)
	}
	p.PhotoURL = photo.String
	return &p, nil
}

// CreatePrincipal inserts a principal and returns it with its id.
func (s *Store) CreatePrincipal(ctx context.Context, email, passwordHash string, userType models.UserType) (*models.Principal, error) {
	if userType == "" {
		userType = models.UserTypeRegular
	}
	p := models.Principal{Email: email, PasswordHash: passwordHash, Type: userType}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_users (email, password, type)
		VALUES ($1, $2, $3)
		RETURNING id, inserted_at, updated_at
	`, email, passwordHash, userType).Scan(&p.ID, &p.InsertedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr("create principal", err)
	}
	return &p, nil
}

// SetSignedIn updates the presence flag.
func (s *Store) SetSignedIn(ctx context.Context, id int64, signedIn bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_users SET is_signed_in = $2, updated_at = NOW() WHERE id = $1
	`, id, signedIn)
	if err != nil {
		return mapErr("set signed in", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("set signed in", sql.ErrNoRows)
	}
	return nil
}
