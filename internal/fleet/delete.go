package fleet

import (
	"context"
	"fmt"

	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// DeleteTenantDatabase drops a tenant's database and marks the record
// INACTIVE.  Irreversible.  Callers must have obtained explicit operator
// confirmation before calling it.
func (o *Ops) DeleteTenantDatabase(ctx context.Context, tenantID string) error {
	ctx = audit.WithTenant(ctx, tenantID)

	rec, err := o.records.ByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if rec.DatabaseName == nil || *rec.DatabaseName == "" {
		return fmt.Errorf("delete tenant %s: %w", tenantID, meta.ErrNotProvisioned)
	}
	name := *rec.DatabaseName

	server := o.master
	if rec.ConnectionString != nil {
		if o.pool != nil {
			o.pool.Evict(*rec.ConnectionString)
		}
		if d, err := dsn.Parse(*rec.ConnectionString); err == nil {
			server = d
		}
	}

	admin, err := o.openAdmin(ctx, server.WithDatabase(o.maint).String())
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	defer admin.Close()

	n, err := admin.TerminateConnections(ctx, name)
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	if err := admin.DropDatabase(ctx, name); err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	// A lookup that raced the first eviction may have cached a client
	// for the now dropped database.
	if o.pool != nil && rec.ConnectionString != nil {
		o.pool.Evict(*rec.ConnectionString)
	}
	if err := o.records.MarkInactive(ctx, tenantID); err != nil {
		return fmt.Errorf("delete tenant %s: database dropped but record not updated: %w", tenantID, err)
	}

	o.log.Warnw("tenant database deleted", "tenant", tenantID, "db", name, "terminated", n)
	return nil
}
