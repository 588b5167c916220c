package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

// UpsertLocation stores fix as the principal's active fix unless a newer
// one is already stored. It reports whether fix was applied.
func (s *Store) UpsertLocation(ctx context.Context, fix *models.LocationFix) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_users_locations (
			user_id, network_id, tellzone_id, lng, lat,
			accuracies_horizontal, accuracies_vertical, bearing, is_casting, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			network_id = EXCLUDED.network_id,
			tellzone_id = EXCLUDED.tellzone_id,
			lng = EXCLUDED.lng,
			lat = EXCLUDED.lat,
			accuracies_horizontal = EXCLUDED.accuracies_horizontal,
			accuracies_vertical = EXCLUDED.accuracies_vertical,
			bearing = EXCLUDED.bearing,
			is_casting = EXCLUDED.is_casting,
			timestamp = EXCLUDED.timestamp
		WHERE api_users_locations.timestamp <= EXCLUDED.timestamp
	`, fix.UserID, nullInt64(fix.NetworkID), nullInt64(fix.TellzoneID), fix.Point.Lng, fix.Point.Lat,
		fix.AccuraciesHorizontal, fix.AccuraciesVertical, fix.Bearing, fix.IsCasting, fix.Timestamp)
	if err != nil {
		return false, mapErr("upsert location", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("upsert location", err)
	}
	return n > 0, nil
}

// GetLocation returns the active fix of a principal.
func (s *Store) GetLocation(ctx context.Context, userID int64) (*models.LocationFix, error) {
	var fix models.LocationFix
	var network, tellzone sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, network_id, tellzone_id, lng, lat, accuracies_horizontal,
			accuracies_vertical, bearing, is_casting, timestamp
		FROM api_users_locations WHERE user_id = $1
	`, userID).Scan(&fix.UserID, &network, &tellzone, &fix.Point.Lng, &fix.Point.Lat,
		&fix.AccuraciesHorizontal, &fix.AccuraciesVertical, &fix.Bearing, &fix.IsCasting, &fix.Timestamp)
	if err != nil {
		return nil, mapErr("get location", err)
	}
	fix.NetworkID = fromNullInt64(network)
	fix.TellzoneID = fromNullInt64(tellzone)
	return &fix, nil
}

// Candidates implements geo.PointSource over active casts and tellzones.
func (s *Store) Candidates(ctx context.Context, kind geo.Kind, box geo.Box) ([]geo.Candidate, error) {
	lngClause := `lng BETWEEN $3 AND $4`
	minLng, maxLng := box.MinLng, box.MaxLng
	if minLng < -180 || maxLng > 180 {
		// The box crosses the antimeridian; let geo filter longitudes.
		lngClause = `$3::float8 IS NOT NULL AND $4::float8 IS NOT NULL`
	}

	switch kind {
	case geo.KindUsers:
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, network_id, tellzone_id, lng, lat, accuracies_horizontal,
				accuracies_vertical, bearing, is_casting, timestamp
			FROM api_users_locations
			WHERE is_casting = TRUE AND lat BETWEEN $1 AND $2 AND `+lngClause,
			box.MinLat, box.MaxLat, minLng, maxLng)
		if err != nil {
			return nil, mapErr("nearby users", err)
		}
		defer rows.Close()

		var out []geo.Candidate
		for rows.Next() {
			var fix models.LocationFix
			var network, tellzone sql.NullInt64
			if err := rows.Scan(&fix.UserID, &network, &tellzone, &fix.Point.Lng, &fix.Point.Lat,
				&fix.AccuraciesHorizontal, &fix.AccuraciesVertical, &fix.Bearing, &fix.IsCasting, &fix.Timestamp); err != nil {
				return nil, mapErr("nearby users", err)
			}
			fix.NetworkID = fromNullInt64(network)
			fix.TellzoneID = fromNullInt64(tellzone)
			out = append(out, geo.Candidate{ID: fix.UserID, Point: fix.Point, Value: fix})
		}
		return out, mapErr("nearby users", rows.Err())

	case geo.KindTellzones:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, name, lng, lat, hours, status, started_at, ended_at
			FROM api_tellzones
			WHERE lat BETWEEN $1 AND $2 AND `+lngClause+`
				AND (ended_at IS NULL OR ended_at > NOW())`,
			box.MinLat, box.MaxLat, minLng, maxLng)
		if err != nil {
			return nil, mapErr("nearby tellzones", err)
		}
		defer rows.Close()

		var out []geo.Candidate
		for rows.Next() {
			tz, err := scanTellzone(rows)
			if err != nil {
				return nil, mapErr("nearby tellzones", err)
			}
			out = append(out, geo.Candidate{ID: tz.ID, Point: tz.Point, Value: tz})
		}
		return out, mapErr("nearby tellzones", rows.Err())
	}
	return nil, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTellzone(row scanner) (models.Tellzone, error) {
	var tz models.Tellzone
	var owner sql.NullInt64
	var hours []byte
	var started, ended sql.NullTime
	if err := row.Scan(&tz.ID, &owner, &tz.Name, &tz.Point.Lng, &tz.Point.Lat, &hours, &tz.Status, &started, &ended); err != nil {
		return tz, err
	}
	tz.UserID = fromNullInt64(owner)
	if len(hours) > 0 {
		tz.Hours = json.RawMessage(hours)
	}
	if started.Valid {
		tz.StartedAt = &started.Time
	}
	if ended.Valid {
		tz.EndedAt = &ended.Time
	}
	return tz, nil
}

// TellzonesWithOwners lists tellzones that have an owner.
func (s *Store) TellzonesWithOwners(ctx context.Context) ([]models.Tellzone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, lng, lat, hours, status, started_at, ended_at
		FROM api_tellzones WHERE user_id IS NOT NULL ORDER BY id
	`)
	if err != nil {
		return nil, mapErr("tellzones with owners", err)
	}
	defer rows.Close()

	var out []models.Tellzone
	for rows.Next() {
		tz, err := scanTellzone(rows)
		if err != nil {
			return nil, mapErr("tellzones with owners", err)
		}
		out = append(out, tz)
	}
	return out, mapErr("tellzones with owners", rows.Err())
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
