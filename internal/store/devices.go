package store

import (
	"context"
	"database/sql"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// RegisterDevice inserts a device or, when (platform, registration_id)
// already exists, reassigns that row to d.UserID.
func (s *Store) RegisterDevice(ctx context.Context, d *models.Device) (*models.Device, error) {
	if d.Platform != models.PlatformAPNS && d.Platform != models.PlatformGCM {
		return nil, apperr.E(apperr.Invalid, "unknown platform %q", d.Platform)
	}
	if d.RegistrationID == "" {
		return nil, apperr.E(apperr.Invalid, "registration_id is required")
	}

	out := *d
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_devices (user_id, platform, name, device_id, registration_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, registration_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			device_id = EXCLUDED.device_id,
			updated_at = NOW()
		RETURNING id, inserted_at, updated_at
	`, d.UserID, d.Platform, d.Name, d.DeviceID, d.RegistrationID).Scan(&out.ID, &out.InsertedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapErr("register device", err)
	}
	return &out, nil
}

// ListDevices returns the devices of a principal, optionally for one platform.
func (s *Store) ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, COALESCE(name, ''), device_id, registration_id, inserted_at, updated_at
		FROM api_devices
		WHERE user_id = $1 AND ($2 = '' OR platform = $2)
		ORDER BY id
	`, userID, string(platform))
	if err != nil {
		return nil, mapErr("list devices", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Platform, &d.Name, &d.DeviceID, &d.RegistrationID, &d.InsertedAt, &d.UpdatedAt); err != nil {
			return nil, mapErr("list devices", err)
		}
		out = append(out, d)
	}
	return out, mapErr("list devices", rows.Err())
}

// DeleteDevice removes a device owned by userID. A zero userID skips the
// ownership check (used by the push worker on provider rejection).
func (s *Store) DeleteDevice(ctx context.Context, userID, id int64) error {
	var res sql.Result
	var err error
	if userID == 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM api_devices WHERE id = $1`, id)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM api_devices WHERE id = $1 AND user_id = $2`, id, userID)
	}
	if err != nil {
		return mapErr("delete device", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("delete device", sql.ErrNoRows)
	}
	return nil
}
