// internal/provision/provision.go
//
// Tenant database provisioning.
//
// Context
// -------
// `Service.ProvisionTenantDatabase` takes one tenant from UNPROVISIONED (or
// FAILED, or a stuck PROVISIONING) to ACTIVE:
//
//  1. Load the tenant record.
//  2. Derive the database name from the slug with DatabaseName.
//  3. Mark the record PROVISIONING.
//  4. On the maintenance database, create the tenant database unless it
//     already exists.  The admin connection is closed on every path.
//  5. Build the tenant connection string from the master credentials.
//  6. Push the tenant schema.
//  7. Mark the record ACTIVE with database name and connection string.
//
// Any failure after step 3 marks the record FAILED with a one-line reason.
// That write runs on a context detached from the caller, so a cancelled
// request still leaves a definite state behind.
//
// Notes
// -----
//   - The sequence is not transactional.  A crash between 4 and 7 leaves a
//     live database and a PROVISIONING record; the next run reuses the
//     database because step 4 is idempotent.
//   - Two concurrent runs for one tenant are safe for the database but not
//     for the status column.  Serialise per tenant upstream.
package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/pgadmin"
	"github.com/yanizio/tenantdb/internal/schema"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// DefaultMaintenanceDB is the database admin statements connect to.
const DefaultMaintenanceDB = "postgres"

const (
	maxReasonLen    = 500
	failWriteBudget = 10 * time.Second
)

var disallowed = regexp.MustCompile(`[^a-z0-9_]`)

// DatabaseName derives the tenant database name from its slug.  Nothing else
// in the codebase may build tenant database names.
func DatabaseName(slug string) string {
	return "tenant_" + disallowed.ReplaceAllString(strings.ToLower(slug), "_")
}

// Records is the slice of meta.Store provisioning needs.
type Records interface {
	ByID(ctx context.Context, id string) (*meta.Record, error)
	SetProvisioning(ctx context.Context, id string) error
	MarkActive(ctx context.Context, id, dbName, dsn string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Admin is the maintenance-database surface provisioning needs.
// *pgadmin.Admin satisfies it.
type Admin interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name, owner string) error
	Close() error
}

// AdminOpener opens an Admin on the maintenance database at adminDSN.
type AdminOpener func(ctx context.Context, adminDSN string) (Admin, error)

// Options wires a Service.
type Options struct {
	Records       Records
	Pusher        schema.Pusher
	Master        dsn.Descriptor // credentials and server shared by every tenant
	MaintenanceDB string         // "" → DefaultMaintenanceDB
	Owner         string         // "" → Master.User
	OpenAdmin     AdminOpener    // nil → pgadmin.Open
	Logger        *zap.SugaredLogger
}

// Service provisions tenant databases.
type Service struct {
	records   Records
	pusher    schema.Pusher
	master    dsn.Descriptor
	maint     string
	owner     string
	openAdmin AdminOpener
	log       *zap.SugaredLogger
}

// New builds a Service.
func New(o Options) *Service {
	if o.MaintenanceDB == "" {
		o.MaintenanceDB = DefaultMaintenanceDB
	}
	if o.Owner == "" {
		o.Owner = o.Master.User
	}
	if o.OpenAdmin == nil {
		o.OpenAdmin = func(ctx context.Context, s string) (Admin, error) {
			return pgadmin.Open(ctx, s)
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return &Service{
		records:   o.Records,
		pusher:    o.Pusher,
		master:    o.Master,
		maint:     o.MaintenanceDB,
		owner:     o.Owner,
		openAdmin: o.OpenAdmin,
		log:       o.Logger,
	}
}

// TenantDSN returns the connection string a tenant database gets.
func (s *Service) TenantDSN(dbName string) string {
	return s.master.WithDatabase(dbName).String()
}

// ProvisionTenantDatabase runs the provisioning sequence for tenantID.
func (s *Service) ProvisionTenantDatabase(ctx context.Context, tenantID string) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ProvisionTotal.WithLabelValues(result).Inc()
		metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}()

	ctx = audit.WithTenant(ctx, tenantID)
	log := s.log.With("tenant", tenantID)

	rec, err := s.records.ByID(ctx, tenantID)
	if err != nil {
		return &Error{TenantID: tenantID, Step: StepLoad, Err: err}
	}
	name := DatabaseName(rec.Slug)
	if !pgadmin.ValidName(name) {
		return &Error{TenantID: tenantID, Step: StepDerive,
			Err: fmt.Errorf("%w: slug %q gives %q", pgadmin.ErrInvalidName, rec.Slug, name)}
	}

	if err := s.records.SetProvisioning(ctx, tenantID); err != nil {
		return &Error{TenantID: tenantID, Step: StepMarkProvisioning, Err: err}
	}
	log.Infow("provisioning started", "db", name)

	if step, err := s.provision(ctx, tenantID, name); err != nil {
		perr := &Error{TenantID: tenantID, Step: step, Err: err}
		s.markFailed(ctx, tenantID, perr)
		log.Errorw("provisioning failed", "db", name, "step", step, "err", perr)
		return perr
	}

	log.Infow("provisioning finished", "db", name, "took", time.Since(start).Truncate(time.Millisecond))
	return nil
}

func (s *Service) provision(ctx context.Context, tenantID, name string) (Step, error) {
	if err := s.ensureDatabase(ctx, name); err != nil {
		return StepCreateDatabase, err
	}

	tenantDSN := s.TenantDSN(name)
	if err := s.pusher.Push(ctx, tenantDSN); err != nil {
		return StepSchemaPush, err
	}

	if err := s.records.MarkActive(ctx, tenantID, name, tenantDSN); err != nil {
		return StepActivate, err
	}
	return "", nil
}

// ensureDatabase creates name unless it exists.  A concurrent creator that
// wins the race is not an error.
func (s *Service) ensureDatabase(ctx context.Context, name string) error {
	admin, err := s.openAdmin(ctx, s.master.WithDatabase(s.maint).String())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := admin.Close(); cerr != nil {
			s.log.Warnw("close admin connection", "err", cerr)
		}
	}()

	exists, err := admin.DatabaseExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		s.log.Infow("tenant database already exists, reusing", "db", name)
		return nil
	}
	err = admin.CreateDatabase(ctx, name, s.owner)
	if errors.Is(err, pgadmin.ErrDatabaseAlreadyExists) {
		s.log.Infow("tenant database created concurrently, reusing", "db", name)
		return nil
	}
	return err
}

func (s *Service) markFailed(ctx context.Context, tenantID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteBudget)
	defer cancel()

	if err := s.records.MarkFailed(ctx, tenantID, Reason(cause)); err != nil {
		s.log.Errorw("could not record provisioning failure", "tenant", tenantID, "err", err)
	}
}

// Reason flattens err into the one-line summary stored in suspend_reason.
func Reason(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxReasonLen {
		cut := maxReasonLen - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
