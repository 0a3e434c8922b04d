package fleet

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// Result is the outcome of one tenant in a batch job.
type Result struct {
	TenantID string
	Slug     string
	Err      error
	Took     time.Duration
}

// OK reports success.
func (r Result) OK() bool { return r.Err == nil }

// Report summarises a batch job.  Results keep the listing order.
type Report struct {
	Results []Result
}

// Succeeded counts successful tenants.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// MigrateAllTenants pushes the schema to every ACTIVE tenant.  A failing
// tenant is logged and recorded; the others still run.  The returned error
// is non-nil only when the tenant list itself cannot be read.
func (o *Ops) MigrateAllTenants(ctx context.Context) (Report, error) {
	recs, err := o.records.ListByStatus(ctx, meta.StatusActive)
	if err != nil {
		return Report{}, fmt.Errorf("list active tenants: %w", err)
	}

	results := make([]Result, len(recs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for i := range recs {
		rec := recs[i]
		g.Go(func() error {
			results[i] = o.migrateOne(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Results: results}
	o.log.Infow("migrate-all finished",
		"tenants", len(results), "ok", rep.Succeeded(), "failed", len(results)-rep.Succeeded())
	return rep, nil
}

func (o *Ops) migrateOne(ctx context.Context, rec meta.Record) Result {
	start := time.Now()
	res := Result{TenantID: rec.ID, Slug: rec.Slug}

	conn, err := rec.DSN()
	if err == nil {
		err = o.pusher.Push(ctx, conn)
	}
	res.Took = time.Since(start)

	if err != nil {
		res.Err = err
		metrics.FleetMigrationsTotal.WithLabelValues("error").Inc()
		o.log.Errorw("tenant migration failed", "tenant", rec.ID, "slug", rec.Slug, "err", err)
		return res
	}
	metrics.FleetMigrationsTotal.WithLabelValues("ok").Inc()
	o.log.Infow("tenant migrated", "tenant", rec.ID, "slug", rec.Slug, "took", res.Took.Truncate(time.Millisecond))
	return res
}
