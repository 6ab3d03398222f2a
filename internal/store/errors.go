package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrTransient = errors.New("transient storage failure")
)

// SQLSTATE codes a caller can resolve by retrying the whole request.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// classify folds retryable Postgres failures into ErrTransient and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
	}
	return err
}
