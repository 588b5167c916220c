// Package store holds the Postgres repositories the realtime core reads
// and writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	pqUniqueViolation       = "23505"
	pqForeignKeyViolation   = "23503"
	pqCheckViolation        = "23514"
	pqSerializationFailure  = "40001"
	serializableMaxAttempts = 3
)

// Store wraps the connection pool.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// mapErr converts driver errors into apperr kinds.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.NotFound, "%s: not found", op)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return apperr.Wrap(apperr.Conflict, op+": duplicate", err)
		case pqForeignKeyViolation:
			return apperr.Wrap(apperr.NotFound, op+": missing reference", err)
		case pqCheckViolation:
			return apperr.Wrap(apperr.Invalid, op+": constraint", err)
		case pqSerializationFailure:
			return apperr.Wrap(apperr.Transient, op+": serialization failure", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.Transient, op, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// serializable runs fn in a SERIALIZABLE transaction, retrying
// serialization failures.
func (s *Store) serializable(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < serializableMaxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqSerializationFailure {
			continue
		}
		break
	}
	return mapErr(op, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
