package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrPoolExhausted means every connection of a bounded pool was busy
	// until the caller's deadline.  Retryable.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrClientEvicted is returned by a client the pool has already disposed.
	// Callers re-acquire a fresh client and retry.
	ErrClientEvicted = errors.New("client evicted")
)

// classify maps a deadline hit while the pool was saturated to
// ErrPoolExhausted.  Every other error passes through untouched.
func classify(db *sqlx.DB, err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st := db.Stats()
	if st.MaxOpenConnections > 0 && st.InUse >= st.MaxOpenConnections {
		return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}
	return err
}

// IsRetryable separates transient conditions (pool pressure, eviction,
// connect failures) from terminal ones such as not-found or invalid input.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrClientEvicted) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return pgconn.SafeToRetry(err)
}
