package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// Client is the query handle handed to callers.  It pairs the decorated
// executor with the pool it ultimately runs on.  Only the owner (the tenant
// pool, or the registry for the master client) may Close it.
type Client struct {
	exec   Executor
	db     *sqlx.DB
	closed atomic.Bool
	once   sync.Once
	err    error
}

// New builds a client.  exec usually wraps NewSQLExecutor(db).
func New(db *sqlx.DB, exec Executor) *Client {
	return &Client{exec: exec, db: db}
}

// Execute runs op unless the client has been disposed.
func (c *Client) Execute(ctx context.Context, op Operation) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClientEvicted
	}
	return c.exec.Execute(ctx, op)
}

// Ping checks connectivity of the underlying pool.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientEvicted
	}
	return c.db.PingContext(ctx)
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool { return c.closed.Load() }

// Close refuses new work and closes the pool.  database/sql lets queries
// that already started finish before the connections go away.  Safe to call
// more than once; only the first call does anything.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.err = c.db.Close()
	})
	return c.err
}
