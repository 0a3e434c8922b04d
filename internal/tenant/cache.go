// internal/tenant/cache.go
//
// Tenant client pool.
//
// Context
// -------
// `Pool` maps a tenant connection string to a live, audit-wrapped client.
// Clients are opened lazily on first use, kept in a sync.Map, and evicted on
// idle TTL or LRU pressure, whichever comes first.  The pool is the single
// owner of every tenant connection pool in the process.
//
// Workflow
// --------
//  1. Fast path: Load the key, check the idle TTL, touch lastSeen, return.
//  2. Slow path: one singleflight call per key opens the pool, wraps the
//     executor with audit interception, and stores the entry.  Concurrent
//     first callers share that single result.
//  3. After an insert, the LRU pass trims the map back to MaxClients.
//
// Notes
// -----
//   - Keys are raw connection strings.  Logs only ever see dsn.Redact(key).
//   - Disposal goes through CompareAndDelete so each entry is closed once,
//     even when the sweeper, an LRU pass, and Evict race for it.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/client"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// Defaults used when Options leaves a field at zero.
const (
	DefaultIdleTTL           = 30 * time.Minute
	DefaultMaxClients        = 50
	DefaultEvictInterval     = 5 * time.Minute
	DefaultMaxConnsPerTenant = 5
)

// ErrPoolClosed is returned after ShutdownAll.
var ErrPoolClosed = errors.New("tenant pool closed")

// Opener opens a bounded connection pool for one tenant.
type Opener func(ctx context.Context, dsn string) (*sqlx.DB, error)

// RecordLookup resolves tenant records.  *meta.Store satisfies it.
type RecordLookup interface {
	ByID(ctx context.Context, id string) (*meta.Record, error)
}

// Options configures a Pool.
type Options struct {
	Open              Opener // nil → database.OpenWithOptions with TenantOptions
	Records           RecordLookup
	Recorder          *audit.Recorder // nil disables auditing of tenant writes
	Logger            *zap.SugaredLogger
	MaxClients        int
	IdleTTL           time.Duration
	EvictInterval     time.Duration // < 0 disables the background sweeper
	MaxConnsPerTenant int
	OnEvict           func(key string, reason EvictReason)
	Now               func() time.Time
}

// Stats is the pool readout exposed on the health surface.
type Stats struct {
	ActiveClients int `json:"activeClients"`
	MaxClients    int `json:"maxClients"`
}

// Pool lazily opens tenant clients and evicts them on idle TTL or LRU
// pressure.
type Pool struct {
	opts Options
	log  *zap.SugaredLogger

	sfg  singleflight.Group
	m    sync.Map // string → *entry
	size atomic.Int64

	lruMu sync.Mutex

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Pool and starts the background evictor.
func New(opts Options) *Pool {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.EvictInterval == 0 {
		opts.EvictInterval = DefaultEvictInterval
	}
	if opts.MaxConnsPerTenant <= 0 {
		opts.MaxConnsPerTenant = DefaultMaxConnsPerTenant
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		maxConns := opts.MaxConnsPerTenant
		opts.Open = func(ctx context.Context, s string) (*sqlx.DB, error) {
			return database.OpenWithOptions(ctx, s, database.TenantOptions(maxConns))
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	p := &Pool{
		opts: opts,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if opts.EvictInterval > 0 {
		go p.evictLoop(opts.EvictInterval)
	} else {
		close(p.done)
	}
	return p
}

// GetClient returns the client for connStr, opening it on first use.
func (p *Pool) GetClient(ctx context.Context, connStr string) (*client.Client, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if c, ok := p.lookup(connStr); ok {
		return c, nil
	}

	v, err, _ := p.sfg.Do(connStr, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		if c, ok := p.lookup(connStr); ok {
			return c, nil
		}
		return p.open(ctx, connStr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Client), nil
}

// GetClientForTenant resolves the tenant's connection string and delegates
// to GetClient.  Tenants without one yield meta.ErrNotProvisioned.
func (p *Pool) GetClientForTenant(ctx context.Context, tenantID string) (*client.Client, error) {
	if p.opts.Records == nil {
		return nil, errors.New("tenant pool: no record lookup configured")
	}
	rec, err := p.opts.Records.ByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	connStr, err := rec.DSN()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	return p.GetClient(ctx, connStr)
}

// Evict disposes the client for connStr, if cached.
func (p *Pool) Evict(connStr string) bool {
	v, ok := p.m.Load(connStr)
	if !ok {
		return false
	}
	return p.dispose(v.(*entry), ReasonExplicit)
}

// Stats reports the current size and the configured bound.
func (p *Pool) Stats() Stats {
	return Stats{
		ActiveClients: int(p.size.Load()),
		MaxClients:    p.opts.MaxClients,
	}
}

// ShutdownAll stops the evictor and disposes every client.  Later calls to
// GetClient fail with ErrPoolClosed.
func (p *Pool) ShutdownAll() {
	p.closed.Store(true)
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done

	p.m.Range(func(_, v any) bool {
		p.dispose(v.(*entry), ReasonShutdown)
		return true
	})
}

//
// internals
//

// lookup returns a live, unexpired client and touches it.  An expired entry
// is disposed on the spot.
func (p *Pool) lookup(key string) (*client.Client, bool) {
	v, ok := p.m.Load(key)
	if !ok {
		return nil, false
	}
	ent := v.(*entry)
	now := p.opts.Now().UnixNano()
	if p.expired(ent, now) {
		p.dispose(ent, ReasonIdle)
		return nil, false
	}
	ent.touch(now)
	return ent.client, true
}

func (p *Pool) expired(ent *entry, now int64) bool {
	return time.Duration(now-ent.lastSeen.Load()) > p.opts.IdleTTL
}

func (p *Pool) open(ctx context.Context, key string) (*client.Client, error) {
	// Callers waiting on this flight must not fail because the first one
	// went away.
	db, err := p.opts.Open(context.WithoutCancel(ctx), key)
	if err != nil {
		metrics.TenantClientOpenErrorsTotal.Inc()
		p.log.Warnw("tenant pool open failed", "dsn", dsn.Redact(key), "err", err)
		return nil, fmt.Errorf("open tenant pool: %w", err)
	}

	exec := audit.Wrap(client.NewSQLExecutor(db), p.opts.Recorder)
	ent := &entry{key: key, client: client.New(db, exec)}
	ent.touch(p.opts.Now().UnixNano())

	p.m.Store(key, ent)
	p.size.Add(1)
	metrics.TenantClientOpenTotal.Inc()
	metrics.ActiveTenantClients.Inc()
	p.log.Debugw("tenant pool opened", "dsn", dsn.Redact(key))

	if p.closed.Load() {
		// ShutdownAll ran while we were connecting.
		p.dispose(ent, ReasonShutdown)
		return nil, ErrPoolClosed
	}

	p.evictLRU(key)
	return ent.client, nil
}

// dispose removes ent from the map and closes it.  Only the caller that wins
// the CompareAndDelete closes the entry.
func (p *Pool) dispose(ent *entry, reason EvictReason) bool {
	if !p.m.CompareAndDelete(ent.key, ent) {
		return false
	}
	p.size.Add(-1)
	metrics.ActiveTenantClients.Dec()
	metrics.TenantClientEvictTotal.WithLabelValues(string(reason)).Inc()

	if err := ent.close(); err != nil {
		p.log.Warnw("tenant pool close failed", "dsn", dsn.Redact(ent.key), "reason", reason, "err", err)
	} else {
		p.log.Infow("tenant client evicted", "dsn", dsn.Redact(ent.key), "reason", reason)
	}
	if p.opts.OnEvict != nil {
		p.opts.OnEvict(ent.key, reason)
	}
	return true
}
