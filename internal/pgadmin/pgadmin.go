// internal/pgadmin/pgadmin.go
//
// Server-level administration through the maintenance database.
//
// Context
// -------
// CREATE DATABASE and DROP DATABASE cannot run inside a transaction and
// cannot target the database they are connected to.  Provisioning and
// deletion therefore talk to the server's maintenance database (normally
// `postgres`) through a short-lived `Admin` handle that the caller opens,
// uses, and closes on every exit path.
//
// Notes
// -----
//   - Names are validated against a conservative pattern and then quoted
//     with pgx.Identifier.  DDL cannot take bind parameters.
//   - A racing CREATE that loses gets SQLSTATE 42P04.  It surfaces as
//     ErrDatabaseAlreadyExists, which callers treat as success.
package pgadmin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantdb/internal/database"
)

var (
	// ErrDatabaseAlreadyExists is non-fatal: the database is there.
	ErrDatabaseAlreadyExists = errors.New("database already exists")

	// ErrInvalidName rejects identifiers outside validName.
	ErrInvalidName = errors.New("invalid database name")
)

const sqlstateDuplicateDatabase = "42P04"

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidName reports whether name is acceptable as a tenant database name.
func ValidName(name string) bool { return validName.MatchString(name) }

// Admin wraps a single-connection pool on the maintenance database.
type Admin struct {
	db *sqlx.DB
}

// Open connects to the maintenance database described by adminDSN.
func Open(ctx context.Context, adminDSN string) (*Admin, error) {
	db, err := database.OpenWithOptions(ctx, adminDSN, database.Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("admin connection: %w", err)
	}
	return &Admin{db: db}, nil
}

// NewAdmin wraps an existing pool.  Close closes db.
func NewAdmin(db *sqlx.DB) *Admin { return &Admin{db: db} }

// Close releases the connection.
func (a *Admin) Close() error { return a.db.Close() }

// DatabaseExists checks pg_database for name.
func (a *Admin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name)
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return exists, nil
}

// CreateDatabase issues CREATE DATABASE name OWNER owner.  An empty owner
// leaves ownership with the connected role.
func (a *Admin) CreateDatabase(ctx context.Context, name, owner string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	if owner != "" {
		stmt += " OWNER " + pgx.Identifier{owner}.Sanitize()
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateDuplicateDatabase {
			return fmt.Errorf("%w: %s", ErrDatabaseAlreadyExists, name)
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// TerminateConnections ends every other backend connected to name and
// returns how many were signalled.
func (a *Admin) TerminateConnections(ctx context.Context, name string) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, `
        SELECT count(pg_terminate_backend(pid))
        FROM   pg_stat_activity
        WHERE  datname = $1
          AND  pid <> pg_backend_pid()`, name)
	if err != nil {
		return 0, fmt.Errorf("terminate connections to %s: %w", name, err)
	}
	return n, nil
}

// DropDatabase drops name if it exists.
func (a *Admin) DropDatabase(ctx context.Context, name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, err := a.db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}
