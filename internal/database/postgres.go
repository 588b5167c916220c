package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ConnectPostgres opens the pool, pings it and bootstraps the schema.
func ConnectPostgres(ctx context.Context, postgresURI string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping postgres: %w", err)
	}

	if err := InitPostgresTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitPostgresTables creates all tables the core reads and writes.
func InitPostgresTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS api_users (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password VARCHAR(255) NOT NULL,
			type VARCHAR(7) NOT NULL DEFAULT 'Regular',
			is_signed_in BOOLEAN NOT NULL DEFAULT FALSE,
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			photo_original TEXT,
			photo_preview TEXT,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS api_users_photos (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			string_original TEXT NOT NULL,
			string_preview TEXT,
			position INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS api_users_statuses_attachments (
			id BIGSERIAL PRIMARY KEY,
			user_status_id BIGINT NOT NULL,
			string_original TEXT NOT NULL,
			string_preview TEXT,
			position INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS api_posts_attachments (
			id BIGSERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL,
			type VARCHAR(255) NOT NULL,
			string_original TEXT NOT NULL,
			string_preview TEXT,
			position INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS api_networks (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_tellzones (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT REFERENCES api_users(id) ON DELETE SET NULL,
			name VARCHAR(255) NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			hours JSONB,
			status VARCHAR(7) NOT NULL DEFAULT 'Public',
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS api_networks_tellzones (
			network_id BIGINT NOT NULL REFERENCES api_networks(id) ON DELETE CASCADE,
			tellzone_id BIGINT NOT NULL REFERENCES api_tellzones(id) ON DELETE CASCADE,
			PRIMARY KEY (network_id, tellzone_id)
		)`,

		// One row per principal: the active fix. History lives in MongoDB.
		`CREATE TABLE IF NOT EXISTS api_users_locations (
			user_id BIGINT PRIMARY KEY REFERENCES api_users(id) ON DELETE CASCADE,
			network_id BIGINT REFERENCES api_networks(id) ON DELETE SET NULL,
			tellzone_id BIGINT REFERENCES api_tellzones(id) ON DELETE SET NULL,
			lng DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			accuracies_horizontal DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracies_vertical DOUBLE PRECISION NOT NULL DEFAULT 0,
			bearing INTEGER NOT NULL DEFAULT 0,
			is_casting BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_master_tells (
			id BIGSERIAL PRIMARY KEY,
			created_by_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			owned_by_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			contents TEXT NOT NULL,
			position INTEGER NOT NULL,
			is_visible BOOLEAN NOT NULL DEFAULT TRUE,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS api_slave_tells (
			id BIGSERIAL PRIMARY KEY,
			master_tell_id BIGINT NOT NULL REFERENCES api_master_tells(id) ON DELETE CASCADE,
			created_by_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			owned_by_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			photo TEXT,
			first_name VARCHAR(255),
			last_name VARCHAR(255),
			type VARCHAR(255) NOT NULL,
			contents TEXT NOT NULL,
			description TEXT,
			is_editable BOOLEAN NOT NULL DEFAULT TRUE,
			position INTEGER NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS api_messages (
			id BIGSERIAL PRIMARY KEY,
			user_source_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			user_destination_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			user_status_id BIGINT,
			master_tell_id BIGINT REFERENCES api_master_tells(id) ON DELETE SET NULL,
			type VARCHAR(255) NOT NULL,
			contents TEXT NOT NULL,
			status VARCHAR(6) NOT NULL DEFAULT 'Unread',
			attachments JSONB,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (user_source_id <> user_destination_id)
		)`,

		`CREATE TABLE IF NOT EXISTS api_notifications (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			type VARCHAR(1) NOT NULL,
			contents JSONB NOT NULL,
			status VARCHAR(6) NOT NULL DEFAULT 'Unread',
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS api_devices (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES api_users(id) ON DELETE CASCADE,
			platform VARCHAR(4) NOT NULL,
			name VARCHAR(255),
			device_id VARCHAR(255) NOT NULL,
			registration_id TEXT NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (platform, registration_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_locations_is_casting ON api_users_locations(is_casting)`,
		`CREATE INDEX IF NOT EXISTS idx_tellzones_user_id ON api_tellzones(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_master_tells_owned_by_id ON api_master_tells(owned_by_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_slave_tells_master_tell_id ON api_slave_tells(master_tell_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON api_messages(user_source_id, user_destination_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_status ON api_notifications(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_user_id ON api_devices(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("database: bootstrap schema: %w", err)
		}
	}
	return nil
}
