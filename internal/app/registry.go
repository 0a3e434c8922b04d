// internal/app/registry.go
//
// Process wiring.
//
// Context
// -------
// `Registry` is the one place where the long-lived collaborators are built
// and connected.  Both binaries go through it:
//
//	master *sqlx.DB ─┬─ audit.SQLSink ─ audit.Recorder
//	                 └─ client.Client (audit-wrapped) ─ meta.Store
//	meta.Store ─┬─ tenant.Pool (audit-wrapped tenant clients)
//	            ├─ provision.Service
//	            └─ fleet.Ops (+ optional objstore.Uploader)
//	health.Checker over the master client and the pool
//
// Notes
// -----
//   - Shutdown order matters: tenant clients first, then the audit queue
//     (its sink writes through the master pool), then the master pool.
//   - Nothing here is global.  Tests build a Registry on a sqlmock handle
//     through Assemble.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/auth"
	"github.com/yanizio/tenantdb/internal/client"
	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/fleet"
	"github.com/yanizio/tenantdb/internal/health"
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/objstore"
	"github.com/yanizio/tenantdb/internal/provision"
	"github.com/yanizio/tenantdb/internal/requestinfo"
	"github.com/yanizio/tenantdb/internal/schema"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// Registry holds every long-lived collaborator.
type Registry struct {
	Config *config.Config
	Log    *zap.SugaredLogger

	MasterDB  *sqlx.DB
	Master    *client.Client
	Recorder  *audit.Recorder
	Records   *meta.Store
	Pool      *tenant.Pool
	Provision *provision.Service
	Fleet     *fleet.Ops
	Health    *health.Checker
	Pusher    schema.Pusher
	Uploader  *objstore.Uploader // nil when no bucket is configured
	Verifier  *auth.Verifier     // nil when auth.jwt_secret is empty
	Geo       *requestinfo.GeoDB // nil when audit.geoip_path is empty
	masterDSN dsn.Descriptor
}

// New opens the master database and assembles the Registry.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Registry, error) {
	master, err := cfg.MasterDescriptor()
	if err != nil {
		return nil, fmt.Errorf("master dsn: %w", err)
	}

	opts := database.DefaultOptions()
	if cfg.Master.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.Master.MaxOpenConns
	}
	log.Infow("connecting to master database", "dsn", master.Redacted())
	db, err := database.OpenWithOptions(ctx, master.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("master database: %w", err)
	}

	if err := metrics.RegisterMasterDB(db.DB); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			log.Warnw("master db stats collector not registered", "err", err)
		}
	}

	r, err := Assemble(cfg, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infow("master database online")
	return r, nil
}

// Assemble builds the Registry on an already open master pool.
func Assemble(cfg *config.Config, db *sqlx.DB, log *zap.SugaredLogger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	master, err := cfg.MasterDescriptor()
	if err != nil {
		return nil, fmt.Errorf("master dsn: %w", err)
	}

	pusher, err := NewPusher(cfg.Schema)
	if err != nil {
		return nil, err
	}

	// Everything that can fail runs before the audit workers and the pool
	// evictor start.
	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer); err != nil {
			return nil, err
		}
	}

	r := &Registry{Config: cfg, Log: log, MasterDB: db, Pusher: pusher, Verifier: verifier, masterDSN: master}

	raw := client.NewSQLExecutor(db)
	r.Recorder = audit.NewRecorder(audit.NewSQLSink(raw), log.Named("audit"), audit.RecorderOptions{
		QueueSize:    cfg.Audit.QueueSize,
		Workers:      cfg.Audit.Workers,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})
	r.Master = client.New(db, audit.Wrap(raw, r.Recorder))
	r.Records = meta.NewStore(r.Master)

	r.Pool = tenant.New(tenant.Options{
		Records:           r.Records,
		Recorder:          r.Recorder,
		Logger:            log.Named("pool"),
		MaxClients:        cfg.Pool.MaxClients,
		IdleTTL:           cfg.Pool.IdleTTL,
		EvictInterval:     cfg.Pool.EvictInterval,
		MaxConnsPerTenant: cfg.Pool.MaxConnsPerTenant,
	})

	r.Provision = provision.New(provision.Options{
		Records:       r.Records,
		Pusher:        pusher,
		Master:        master,
		MaintenanceDB: cfg.Master.MaintenanceDB,
		Logger:        log.Named("provision"),
	})

	fo := fleet.Options{
		Records:       r.Records,
		Pusher:        pusher,
		Pool:          r.Pool,
		Dumper:        &fleet.CommandDumper{Command: cfg.Backup.Command, Args: cfg.Backup.Args, Timeout: cfg.Backup.Timeout},
		Master:        master,
		MaintenanceDB: cfg.Master.MaintenanceDB,
		BackupDir:     cfg.Backup.Dir,
		Concurrency:   cfg.Fleet.Concurrency,
		Logger:        log.Named("fleet"),
	}
	if s3 := cfg.Backup.S3; s3.Bucket != "" {
		r.Uploader = objstore.New(objstore.Config{
			Endpoint:     s3.Endpoint,
			Region:       s3.Region,
			Bucket:       s3.Bucket,
			Prefix:       s3.Prefix,
			AccessKey:    s3.AccessKey,
			SecretKey:    s3.SecretKey,
			UsePathStyle: s3.UsePathStyle,
		})
		fo.Uploader = r.Uploader
	}
	r.Fleet = fleet.New(fo)

	r.Health = health.New(r.Master, r.Pool, 0)

	if cfg.Audit.GeoIPPath != "" {
		geo, err := requestinfo.OpenGeo(cfg.Audit.GeoIPPath)
		if err != nil {
			// Country is best effort; run without it.
			log.Warnw("geoip disabled", "path", cfg.Audit.GeoIPPath, "err", err)
		} else {
			r.Geo = geo
		}
	}
	return r, nil
}

// NewPusher builds the schema pusher selected by schema.mode.
func NewPusher(c config.Schema) (schema.Pusher, error) {
	switch c.Mode {
	case "", "command":
		return &schema.CommandPusher{Command: c.Command, Args: c.Args, Dir: c.Dir, Timeout: c.Timeout}, nil
	case "goose":
		return schema.NewGoosePusher(c.Dir, c.Timeout), nil
	}
	return nil, fmt.Errorf("schema.mode %q: want command or goose", c.Mode)
}

// MasterDSN returns the parsed master descriptor.
func (r *Registry) MasterDSN() dsn.Descriptor { return r.masterDSN }

// Shutdown releases everything in dependency order.  Every step runs; the
// errors are joined.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error

	r.Pool.ShutdownAll()

	if err := r.Recorder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain audit queue: %w", err))
	}
	if err := r.Master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if err := r.Geo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close geoip: %w", err))
	}

	r.Log.Infow("registry shut down")
	return errors.Join(errs...)
}
