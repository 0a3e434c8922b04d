// internal/tenant/meta/model.go
//
// `tenants` table row model.
//
// Context
// -------
// The `Record` struct mirrors one row in the master database's **tenants**
// table: identity, connectivity, and lifecycle state of one tenant's
// dedicated database.  The provisioning service and the delete operation
// are the only writers of the connectivity columns.
//
// Schema reference (internal/database/migrations/00001_tenants.sql)
//
//	CREATE TABLE tenants (
//	    id                TEXT PRIMARY KEY,
//	    slug              TEXT NOT NULL UNIQUE,
//	    database_name     TEXT NULL,
//	    connection_string TEXT NULL,
//	    database_status   TEXT NOT NULL DEFAULT 'UNPROVISIONED',
//	    suspend_reason    TEXT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Notes
// -----
//   - `ConnectionString` is non-nil only while ACTIVE, or PROVISIONING after
//     a crash between database creation and the final status write.
//   - `ConnectionString` carries credentials.  Never log it unredacted.
package meta

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a tenant database.
type Status string

const (
	StatusUnprovisioned Status = "UNPROVISIONED"
	StatusProvisioning  Status = "PROVISIONING"
	StatusActive        Status = "ACTIVE"
	StatusFailed        Status = "FAILED"
	StatusInactive      Status = "INACTIVE"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnprovisioned, StatusProvisioning, StatusActive, StatusFailed, StatusInactive:
		return true
	}
	return false
}

var (
	// ErrTenantNotFound is returned when no row matches the tenant id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrNotProvisioned is returned when a tenant has no connection string.
	ErrNotProvisioned = errors.New("tenant database not provisioned")
)

// Record mirrors one row in the `tenants` table.
type Record struct {
	ID               string
	Slug             string
	DatabaseName     *string
	ConnectionString *string
	DatabaseStatus   Status
	SuspendReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DSN returns the connection string or ErrNotProvisioned.
func (r *Record) DSN() (string, error) {
	if r.ConnectionString == nil || *r.ConnectionString == "" {
		return "", ErrNotProvisioned
	}
	return *r.ConnectionString, nil
}
