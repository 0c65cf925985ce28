package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var (
	ErrRoleExists     = errors.New("database role already exists")
	ErrDatabaseExists = errors.New("database already exists")
)

// DatabaseProvisioner creates and drops tenant databases on the shared server.
type DatabaseProvisioner interface {
	CreateTenantDatabase(ctx context.Context, dbName, roleName, password string) error
	DropTenantDatabase(ctx context.Context, dbName, roleName string) error
}

// SchemaConn is a single connection into a freshly created database.
type SchemaConn interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// ConnectFunc opens an administrative connection to the named database.
type ConnectFunc func(ctx context.Context, database string) (SchemaConn, error)

// ConnectWithConfig returns a ConnectFunc that reuses the admin credentials
// of base against another database on the same server.
func ConnectWithConfig(base *pgx.ConnConfig) ConnectFunc {
	return func(ctx context.Context, database string) (SchemaConn, error) {
		cfg := base.Copy()
		cfg.Database = database
		conn, err := pgx.ConnectConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type databaseProvisioner struct {
	admin   DBTX
	connect ConnectFunc
}

// NewDatabaseProvisioner expects admin to be connected to the server's
// default database with a role allowed to create roles and databases.
func NewDatabaseProvisioner(admin DBTX, connect ConnectFunc) DatabaseProvisioner {
	return &databaseProvisioner{admin: admin, connect: connect}
}

func (p *databaseProvisioner) CreateTenantDatabase(ctx context.Context, dbName, roleName, password string) error {
	var roleExists, dbExists bool
	err := p.admin.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1),
			EXISTS (SELECT 1 FROM pg_database WHERE datname = $2)
	`, roleName, dbName).Scan(&roleExists, &dbExists)
	if err != nil {
		return fmt.Errorf("check existing role and database: %w", err)
	}
	if roleExists {
		return fmt.Errorf("%w: %s", ErrRoleExists, roleName)
	}
	if dbExists {
		return fmt.Errorf("%w: %s", ErrDatabaseExists, dbName)
	}

	role := pgx.Identifier{roleName}.Sanitize()
	db := pgx.Identifier{dbName}.Sanitize()

	// the existence check can lose a race against a concurrent creator
	if _, err := p.admin.Exec(ctx, fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s", role, quoteLiteral(password))); err != nil {
		if hasSQLState(err, duplicateObject) {
			return fmt.Errorf("%w: %s", ErrRoleExists, roleName)
		}
		return fmt.Errorf("create role %s: %w", roleName, err)
	}

	// CREATE DATABASE cannot run inside a transaction block
	if _, err := p.admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role)); err != nil {
		if _, dropErr := p.admin.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", role)); dropErr != nil {
			log.Warn().Err(dropErr).Str("role", roleName).Msg("Failed to drop role after database creation error")
		}
		if hasSQLState(err, duplicateDatabase) {
			return fmt.Errorf("%w: %s", ErrDatabaseExists, dbName)
		}
		return fmt.Errorf("create database %s: %w", dbName, err)
	}

	grants := []string{
		fmt.Sprintf("REVOKE ALL ON DATABASE %s FROM PUBLIC", db),
		fmt.Sprintf("GRANT CONNECT, CREATE, TEMP ON DATABASE %s TO %s", db, role),
	}
	for _, stmt := range grants {
		if _, err := p.admin.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("grant privileges on %s: %w", dbName, err)
		}
	}

	conn, err := p.connect(ctx, dbName)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dbName, err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER SCHEMA public OWNER TO %s", role)); err != nil {
		return fmt.Errorf("transfer public schema of %s: %w", dbName, err)
	}
	return nil
}

// DropTenantDatabase removes the database and its role. Missing objects are
// not errors; every step is attempted even if an earlier one fails.
func (p *databaseProvisioner) DropTenantDatabase(ctx context.Context, dbName, roleName string) error {
	var errs error

	if _, err := p.admin.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, dbName); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("terminate sessions on %s: %w", dbName, err))
	}

	if _, err := p.admin.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{dbName}.Sanitize())); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("drop database %s: %w", dbName, err))
	}

	if _, err := p.admin.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{roleName}.Sanitize())); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("drop role %s: %w", roleName, err))
	}
	return errs
}

// quoteLiteral renders s as a standard-conforming SQL string literal. Role
// passwords cannot be bound as query parameters in CREATE ROLE.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
