// Package health implements the ping and pool-stats readouts shared by the
// HTTP server and `tenantctl`.
//
// Every check returns a Status instead of an error so callers can render it
// as-is.  Messages never contain credentials.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/yanizio/tenantdb/internal/client"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// DefaultTimeout bounds a single ping.
const DefaultTimeout = 5 * time.Second

// Status is the `{success, message}` pair returned by every ping.
type Status struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Pinger is anything with a Ping.  *client.Client and *sqlx.DB satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ClientSource hands out tenant clients.  *tenant.Pool satisfies it.
type ClientSource interface {
	GetClient(ctx context.Context, connStr string) (*client.Client, error)
	GetClientForTenant(ctx context.Context, tenantID string) (*client.Client, error)
	Stats() tenant.Stats
}

// Checker runs health checks.
type Checker struct {
	master  Pinger
	pool    ClientSource
	timeout time.Duration
}

// New builds a Checker.  timeout <= 0 uses DefaultTimeout.
func New(master Pinger, pool ClientSource, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{master: master, pool: pool, timeout: timeout}
}

// Master pings the master database.
func (c *Checker) Master(ctx context.Context) Status {
	return c.ping(ctx, c.master, "master database reachable")
}

// ConnectionString pings the tenant database at connStr through the pool.
func (c *Checker) ConnectionString(ctx context.Context, connStr string) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cl, err := c.pool.GetClient(ctx, connStr)
	if err != nil {
		return fail(err)
	}
	return c.ping(ctx, cl, "tenant database reachable")
}

// Tenant pings the database of tenantID through the pool.
func (c *Checker) Tenant(ctx context.Context, tenantID string) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cl, err := c.pool.GetClientForTenant(ctx, tenantID)
	if err != nil {
		return fail(err)
	}
	return c.ping(ctx, cl, "tenant database reachable")
}

// PoolStats returns the pool readout.
func (c *Checker) PoolStats() tenant.Stats { return c.pool.Stats() }

func (c *Checker) ping(ctx context.Context, p Pinger, okMsg string) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fail(err)
	}
	return Status{Success: true, Message: okMsg}
}

// fail maps known errors to stable messages.  Driver errors are passed
// through; pgx does not put passwords in them.
func fail(err error) Status {
	switch {
	case errors.Is(err, meta.ErrTenantNotFound):
		return Status{Message: "tenant not found"}
	case errors.Is(err, meta.ErrNotProvisioned):
		return Status{Message: "tenant database not provisioned"}
	case errors.Is(err, context.DeadlineExceeded):
		return Status{Message: "ping timed out"}
	}
	return Status{Message: err.Error()}
}
