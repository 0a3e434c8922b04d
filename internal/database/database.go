// Package database centralises sqlx connection helpers.  Every pool in the
// process, master and tenant alike, goes through the pgx stdlib driver so
// errors surface as *pgconn.PgError regardless of the call site.
//
// Public entry points:
//
//	Open(ctx, dsn)                     – conservative defaults for the master pool.
//	OpenWithOptions(ctx, dsn, opts)    – fine-grained control, used per tenant.
//
// Both helpers Ping the database before returning so callers can fail fast.
// Callers own the returned *sqlx.DB and must Close it.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
)

// DriverName is the database/sql driver registered by pgx/v5/stdlib.
const DriverName = "pgx"

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Retries         int           // extra Ping attempts after the first
	RetryBackoff    time.Duration // delay between Ping attempts
}

// DefaultOptions suits the process-wide master pool.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// TenantOptions keeps per-tenant resource usage small.
func TenantOptions(maxOpen int) Options {
	if maxOpen < 1 {
		maxOpen = 5
	}
	idle := maxOpen / 2
	if idle < 1 {
		idle = 1
	}
	return Options{
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    idle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, DefaultOptions())
}

// OpenWithOptions opens and pings a pool.  The pool is closed again when every
// ping attempt fails.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	if err := pingWithRetry(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func pingWithRetry(ctx context.Context, db *sqlx.DB, opts Options) error {
	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(opts.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
	}
	return err
}
