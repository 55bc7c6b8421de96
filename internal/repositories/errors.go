package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned for missing rows and for writes that
	// reference a missing parent, such as a job for a deleted asset.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique index rejects the write, for
	// example a second pending invite to the same address.
	ErrConflict = errors.New("record conflict")
)

// mapWriteError translates constraint violations into repository sentinels.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapReadError translates a missing row into ErrNotFound.
func mapReadError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
