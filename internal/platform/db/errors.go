package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Postgres error codes this application cares about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
)

// TranslateError maps low-level pgx errors onto the shared taxonomy so
// services and handlers can branch with errors.Is.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return shared.ErrDuplicate
		case codeForeignKeyViolation:
			return shared.ErrNotFound
		case codeSerializationFail, codeDeadlockDetected:
			return shared.ErrConcurrencyConflict
		}
	}
	return err
}
