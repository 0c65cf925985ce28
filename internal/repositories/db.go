package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and by pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrDuplicateTenantName  = errors.New("tenant name already exists")
	ErrDuplicateTenantSlug  = errors.New("tenant slug already exists")
	ErrInconsistentProfiles = errors.New("user has more than one role profile")
)

const (
	uniqueViolation   = "23505"
	duplicateObject   = "42710"
	duplicateDatabase = "42P04"
)

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr, true
	}
	return nil, false
}
