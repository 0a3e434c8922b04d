// internal/fleet/fleet.go
//
// Fleet maintenance operations.
//
// Context
// -------
// `Ops` bundles the operator-facing jobs that act on tenant databases from
// outside the client pool:
//
//   - MigrateAllTenants   re-pushes the schema to every ACTIVE tenant.
//   - BackupTenantDatabase dumps one tenant to a timestamped SQL file.
//   - DeleteTenantDatabase drops one tenant database and retires its record.
//
// Batch work isolates failures per tenant and reports them.  Single-tenant
// jobs return their error to the operator.
//
// Notes
// -----
//   - Backup and delete open their own connections (pg_dump, maintenance
//     database).  Only delete touches the pool, to evict the tenant's client
//     before the database disappears.
package fleet

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/pgadmin"
	"github.com/yanizio/tenantdb/internal/schema"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// Records is the slice of meta.Store fleet jobs need.
type Records interface {
	ByID(ctx context.Context, id string) (*meta.Record, error)
	ListByStatus(ctx context.Context, st meta.Status) ([]meta.Record, error)
	MarkInactive(ctx context.Context, id string) error
}

// Evicter disposes a pooled client.  *tenant.Pool satisfies it.
type Evicter interface {
	Evict(connStr string) bool
}

// Admin is the maintenance-database surface delete needs.
type Admin interface {
	TerminateConnections(ctx context.Context, name string) (int, error)
	DropDatabase(ctx context.Context, name string) error
	Close() error
}

// AdminOpener opens an Admin on the maintenance database at adminDSN.
type AdminOpener func(ctx context.Context, adminDSN string) (Admin, error)

// Dumper writes a SQL dump of the database at connStr to w.
type Dumper interface {
	Dump(ctx context.Context, connStr string, w io.Writer) error
}

// Uploader ships a finished backup file off the host.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) (string, error)
}

// Options wires Ops.
type Options struct {
	Records       Records
	Pusher        schema.Pusher
	Pool          Evicter
	Dumper        Dumper      // nil → &CommandDumper{Command: "pg_dump"}
	Uploader      Uploader    // nil keeps backups local
	OpenAdmin     AdminOpener // nil → pgadmin.Open
	Master        dsn.Descriptor
	MaintenanceDB string
	BackupDir     string
	Concurrency   int
	Logger        *zap.SugaredLogger
	Now           func() time.Time
}

// Ops runs fleet maintenance jobs.
type Ops struct {
	records     Records
	pusher      schema.Pusher
	pool        Evicter
	dumper      Dumper
	uploader    Uploader
	openAdmin   AdminOpener
	master      dsn.Descriptor
	maint       string
	backupDir   string
	concurrency int
	log         *zap.SugaredLogger
	now         func() time.Time
}

// New builds Ops.
func New(o Options) *Ops {
	if o.Dumper == nil {
		o.Dumper = &CommandDumper{Command: "pg_dump"}
	}
	if o.OpenAdmin == nil {
		o.OpenAdmin = func(ctx context.Context, s string) (Admin, error) {
			return pgadmin.Open(ctx, s)
		}
	}
	if o.MaintenanceDB == "" {
		o.MaintenanceDB = "postgres"
	}
	if o.BackupDir == "" {
		o.BackupDir = "backups"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Ops{
		records:     o.Records,
		pusher:      o.Pusher,
		pool:        o.Pool,
		dumper:      o.Dumper,
		uploader:    o.Uploader,
		openAdmin:   o.OpenAdmin,
		master:      o.Master,
		maint:       o.MaintenanceDB,
		backupDir:   o.BackupDir,
		concurrency: o.Concurrency,
		log:         o.Logger,
		now:         o.Now,
	}
}
