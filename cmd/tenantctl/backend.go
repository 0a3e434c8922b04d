package main

import (
	"context"
	"time"

	"github.com/yanizio/tenantdb/internal/app"
	"github.com/yanizio/tenantdb/internal/auth"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/fleet"
	"github.com/yanizio/tenantdb/internal/health"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// backend is everything the commands call.  registryBackend is the real
// one; tests swap in a fake.
type backend interface {
	Tenant(ctx context.Context, id string) (*meta.Record, error)
	CountByStatus(ctx context.Context) (map[meta.Status]int, error)
	Provision(ctx context.Context, id string) error
	Backup(ctx context.Context, id string) (fleet.Backup, error)
	Delete(ctx context.Context, id string) error
	MigrateAll(ctx context.Context) (fleet.Report, error)
	MigrateMaster(ctx context.Context) ([]string, error)
	PingMaster(ctx context.Context) health.Status
	PingTenant(ctx context.Context, id string) health.Status
	IssueToken(subject string, ttl time.Duration) (string, error)
	Close(ctx context.Context) error
}

type registryBackend struct{ r *app.Registry }

func (b registryBackend) Tenant(ctx context.Context, id string) (*meta.Record, error) {
	return b.r.Records.ByID(ctx, id)
}

func (b registryBackend) CountByStatus(ctx context.Context) (map[meta.Status]int, error) {
	out := make(map[meta.Status]int, len(statuses))
	for _, st := range statuses {
		recs, err := b.r.Records.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		out[st] = len(recs)
	}
	return out, nil
}

func (b registryBackend) Provision(ctx context.Context, id string) error {
	return b.r.Provision.ProvisionTenantDatabase(ctx, id)
}

func (b registryBackend) Backup(ctx context.Context, id string) (fleet.Backup, error) {
	return b.r.Fleet.BackupTenantDatabase(ctx, id)
}

func (b registryBackend) Delete(ctx context.Context, id string) error {
	return b.r.Fleet.DeleteTenantDatabase(ctx, id)
}

func (b registryBackend) MigrateAll(ctx context.Context) (fleet.Report, error) {
	return b.r.Fleet.MigrateAllTenants(ctx)
}

func (b registryBackend) MigrateMaster(ctx context.Context) ([]string, error) {
	return database.RunMigrations(ctx, b.r.MasterDB.DB, database.MasterMigrations())
}

func (b registryBackend) PingMaster(ctx context.Context) health.Status {
	return b.r.Health.Master(ctx)
}

func (b registryBackend) PingTenant(ctx context.Context, id string) health.Status {
	return b.r.Health.Tenant(ctx, id)
}

func (b registryBackend) IssueToken(subject string, ttl time.Duration) (string, error) {
	if b.r.Verifier == nil {
		return "", auth.ErrNoSecret
	}
	return b.r.Verifier.Issue(subject, ttl)
}

func (b registryBackend) Close(ctx context.Context) error { return b.r.Shutdown(ctx) }

var statuses = []meta.Status{
	meta.StatusUnprovisioned,
	meta.StatusProvisioning,
	meta.StatusActive,
	meta.StatusFailed,
	meta.StatusInactive,
}
