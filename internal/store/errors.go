package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnauthorized is returned when the database rejects an operation for
// lack of privilege (row-level security or grants). Callers fail closed on
// it instead of retrying.
var ErrUnauthorized = errors.New("unauthorized")

// insufficient_privilege
const sqlstatePermissionDenied = "42501"

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstatePermissionDenied {
		return ErrUnauthorized
	}
	return err
}
