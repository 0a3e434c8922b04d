package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var masterMigrations embed.FS

// MasterMigrations exposes the embedded master schema (tenants, audit_logs).
func MasterMigrations() fs.FS {
	sub, err := fs.Sub(masterMigrations, "migrations")
	if err != nil {
		panic(err) // embed path is fixed at compile time
	}
	return sub
}

// RunMigrations applies every pending goose migration found in fsys.
func RunMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	applied := make([]string, 0, len(results))
	for _, r := range results {
		if r.Source != nil {
			applied = append(applied, r.Source.Path)
		}
	}
	return applied, nil
}

// RunMigrationsURL opens a short-lived connection to url and applies fsys.
func RunMigrationsURL(ctx context.Context, url string, fsys fs.FS) ([]string, error) {
	db, err := sql.Open(DriverName, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return RunMigrations(ctx, db, fsys)
}
