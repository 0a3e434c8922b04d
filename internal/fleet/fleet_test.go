package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantdb/internal/client"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/schema"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

type memRecords struct {
	mu   sync.Mutex
	recs map[string]*meta.Record
	log  *[]string
}

func newMemRecords(log *[]string, recs ...meta.Record) *memRecords {
	m := &memRecords{recs: map[string]*meta.Record{}, log: log}
	for i := range recs {
		r := recs[i]
		m.recs[r.ID] = &r
	}
	return m
}

func (m *memRecords) ByID(_ context.Context, id string) (*meta.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", meta.ErrTenantNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) ListByStatus(_ context.Context, st meta.Status) ([]meta.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meta.Record
	for _, r := range m.recs {
		if r.DatabaseStatus == st {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memRecords) MarkInactive(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return meta.ErrTenantNotFound
	}
	r.DatabaseName, r.ConnectionString = nil, nil
	r.DatabaseStatus = meta.StatusInactive
	if m.log != nil {
		*m.log = append(*m.log, "inactive")
	}
	return nil
}

func active(id, slug string) meta.Record {
	name := "tenant_" + slug
	conn := "postgresql://svc:pw@db:5432/" + name + "?sslmode=require"
	return meta.Record{ID: id, Slug: slug, DatabaseName: &name, ConnectionString: &conn, DatabaseStatus: meta.StatusActive}
}

var master = dsn.MustParse("postgresql://svc:pw@db:5432/master?sslmode=require")

func TestMigrateAllTenants_IsolatesFailures(t *testing.T) {
	records := newMemRecords(nil,
		active("a", "alpha"), active("b", "bravo"), active("c", "charlie"),
		meta.Record{ID: "d", Slug: "delta", DatabaseStatus: meta.StatusFailed},
	)
	var (
		mu     sync.Mutex
		pushed []string
	)
	pusher := schema.PusherFunc(func(_ context.Context, conn string) error {
		mu.Lock()
		pushed = append(pushed, conn)
		mu.Unlock()
		if conn == *records.recs["b"].ConnectionString {
			return fmt.Errorf("%w: exit 1", schema.ErrSchemaPushFailed)
		}
		return nil
	})

	ops := New(Options{Records: records, Pusher: pusher, Concurrency: 2})
	rep, err := ops.MigrateAllTenants(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Results, 3, "only ACTIVE tenants")
	assert.Len(t, pushed, 3, "a failure does not stop the batch")
	assert.Equal(t, 2, rep.Succeeded())
	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].TenantID)
	assert.ErrorIs(t, failed[0].Err, schema.ErrSchemaPushFailed)
	assert.Equal(t, "alpha", rep.Results[0].Slug, "listing order is kept")
}

func TestBackupTenantDatabase(t *testing.T) {
	dir := t.TempDir()
	rec := active("acme", "acme-corp")
	at := time.Date(2025, 6, 5, 14, 3, 9, 0, time.FixedZone("EST", -5*3600))

	var gotConn string
	dumper := dumperFunc(func(_ context.Context, conn string, w io.Writer) error {
		gotConn = conn
		_, err := io.WriteString(w, "-- PostgreSQL database dump\n")
		return err
	})
	up := &fakeUploader{}

	ops := New(Options{
		Records:   newMemRecords(nil, rec),
		Dumper:    dumper,
		Uploader:  up,
		BackupDir: dir,
		Now:       func() time.Time { return at },
	})
	b, err := ops.BackupTenantDatabase(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "acme-corp-20250605T190309Z.sql"), b.Path)
	assert.Equal(t, *rec.ConnectionString, gotConn)
	assert.EqualValues(t, len("-- PostgreSQL database dump\n"), b.Size)
	assert.Equal(t, "acme-corp-20250605T190309Z.sql", b.ObjectKey)
	assert.Equal(t, []string{b.Path}, up.paths)
}

func TestBackupTenantDatabase_FailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	dumper := dumperFunc(func(_ context.Context, _ string, w io.Writer) error {
		_, _ = io.WriteString(w, "-- partial")
		return errors.New("pg_dump: connection refused")
	})
	ops := New(Options{Records: newMemRecords(nil, active("acme", "acme-corp")), Dumper: dumper, BackupDir: dir})

	_, err := ops.BackupTenantDatabase(context.Background(), "acme")
	require.ErrorContains(t, err, "connection refused")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestBackupTenantDatabase_NotProvisioned(t *testing.T) {
	ops := New(Options{
		Records:   newMemRecords(nil, meta.Record{ID: "x", Slug: "x", DatabaseStatus: meta.StatusUnprovisioned}),
		BackupDir: t.TempDir(),
	})
	_, err := ops.BackupTenantDatabase(context.Background(), "x")
	assert.ErrorIs(t, err, meta.ErrNotProvisioned)

	_, err = ops.BackupTenantDatabase(context.Background(), "ghost")
	assert.ErrorIs(t, err, meta.ErrTenantNotFound)
}

func TestCommandDumper_PassesConnectionString(t *testing.T) {
	d := &CommandDumper{Command: "sh", Args: []string{"-c", `printf 'dump of %s' "$0"`}}
	var out stringWriter
	require.NoError(t, d.Dump(context.Background(), "postgresql://u:p@h:5432/tenant_a", &out))
	assert.Equal(t, "dump of postgresql://u:p@h:5432/tenant_a", out.String())

	bad := &CommandDumper{Command: "sh", Args: []string{"-c", `echo "could not connect to $0" >&2; exit 1`}}
	err := bad.Dump(context.Background(), "postgresql://u:secretpw@h:5432/tenant_a", &out)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secretpw")
}

func TestDeleteTenantDatabase(t *testing.T) {
	var steps []string
	rec := active("acme", "acme_corp")
	records := newMemRecords(&steps, rec)

	pool := tenant.New(tenant.Options{
		Records:       records,
		EvictInterval: -1,
		Open: func(context.Context, string) (*sqlx.DB, error) {
			db, mock, err := sqlmock.New()
			if err != nil {
				return nil, err
			}
			mock.ExpectClose()
			return sqlx.NewDb(db, "pgx"), nil
		},
		OnEvict: func(string, tenant.EvictReason) { steps = append(steps, "evict") },
	})
	defer pool.ShutdownAll()

	ctx := context.Background()
	cl, err := pool.GetClientForTenant(ctx, "acme")
	require.NoError(t, err)

	admin := &fakeAdmin{steps: &steps}
	var adminDSN string
	ops := New(Options{
		Records: records,
		Pool:    pool,
		Master:  master,
		OpenAdmin: func(_ context.Context, s string) (Admin, error) {
			adminDSN = s
			return admin, nil
		},
	})

	require.NoError(t, ops.DeleteTenantDatabase(ctx, "acme"))

	assert.Equal(t, []string{"evict", "terminate:tenant_acme_corp", "drop:tenant_acme_corp", "inactive"}, steps)
	assert.Equal(t, "postgresql://svc:pw@db:5432/postgres?sslmode=require", adminDSN)
	assert.True(t, admin.closed)
	assert.True(t, cl.Closed())

	got, _ := records.ByID(ctx, "acme")
	assert.Equal(t, meta.StatusInactive, got.DatabaseStatus)
	assert.Nil(t, got.DatabaseName)
	assert.Nil(t, got.ConnectionString)

	_, err = pool.GetClientForTenant(ctx, "acme")
	assert.ErrorIs(t, err, meta.ErrNotProvisioned)
}

func TestDeleteTenantDatabase_EvictsClientCachedDuringTerminate(t *testing.T) {
	records := newMemRecords(nil, active("acme", "acme_corp"))
	pool := tenant.New(tenant.Options{
		Records:       records,
		EvictInterval: -1,
		Open: func(context.Context, string) (*sqlx.DB, error) {
			db, mock, err := sqlmock.New()
			if err != nil {
				return nil, err
			}
			mock.ExpectClose()
			return sqlx.NewDb(db, "pgx"), nil
		},
	})
	defer pool.ShutdownAll()

	ctx := context.Background()
	var raced *client.Client
	admin := &fakeAdmin{steps: new([]string)}
	admin.onTerminate = func() {
		// the record still carries the DSN, so a concurrent request re-caches it
		cl, err := pool.GetClientForTenant(ctx, "acme")
		require.NoError(t, err)
		raced = cl
	}
	ops := New(Options{
		Records:   records,
		Pool:      pool,
		Master:    master,
		OpenAdmin: func(context.Context, string) (Admin, error) { return admin, nil },
	})

	require.NoError(t, ops.DeleteTenantDatabase(ctx, "acme"))
	require.NotNil(t, raced)
	assert.True(t, raced.Closed())
	assert.Zero(t, pool.Stats().ActiveClients)
}

func TestDeleteTenantDatabase_DropFailurePropagates(t *testing.T) {
	var steps []string
	records := newMemRecords(&steps, active("acme", "acme"))
	admin := &fakeAdmin{steps: &steps, dropErr: errors.New("database is being accessed by other users")}
	ops := New(Options{
		Records:   records,
		OpenAdmin: func(context.Context, string) (Admin, error) { return admin, nil },
	})

	err := ops.DeleteTenantDatabase(context.Background(), "acme")
	require.ErrorContains(t, err, "being accessed")
	assert.NotContains(t, steps, "inactive", "record untouched when drop fails")
	assert.True(t, admin.closed)
}

func TestDeleteTenantDatabase_NotProvisioned(t *testing.T) {
	ops := New(Options{Records: newMemRecords(nil, meta.Record{ID: "x", Slug: "x", DatabaseStatus: meta.StatusInactive})})
	err := ops.DeleteTenantDatabase(context.Background(), "x")
	assert.ErrorIs(t, err, meta.ErrNotProvisioned)
}

//
// fakes
//

type dumperFunc func(ctx context.Context, conn string, w io.Writer) error

func (f dumperFunc) Dump(ctx context.Context, conn string, w io.Writer) error { return f(ctx, conn, w) }

type fakeUploader struct{ paths []string }

func (u *fakeUploader) UploadFile(_ context.Context, p string) (string, error) {
	u.paths = append(u.paths, p)
	return filepath.Base(p), nil
}

type fakeAdmin struct {
	steps       *[]string
	dropErr     error
	closed      bool
	onTerminate func()
}

func (a *fakeAdmin) TerminateConnections(_ context.Context, name string) (int, error) {
	*a.steps = append(*a.steps, "terminate:"+name)
	if a.onTerminate != nil {
		a.onTerminate()
	}
	return 2, nil
}

func (a *fakeAdmin) DropDatabase(_ context.Context, name string) error {
	if a.dropErr != nil {
		return a.dropErr
	}
	*a.steps = append(*a.steps, "drop:"+name)
	return nil
}

func (a *fakeAdmin) Close() error {
	a.closed = true
	return nil
}

type stringWriter struct{ b []byte }

func (w *stringWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *stringWriter) String() string { return string(w.b) }
