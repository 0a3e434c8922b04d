// internal/tenant/entry.go
//
// Pool entry.
//
// Context
// -------
// One `entry` per cached tenant connection string.  It owns the tenant's
// `*client.Client`, which in turn owns the bounded `*sqlx.DB`.  The pool
// stores a pointer to the entry in its sync.Map along with a `lastSeen`
// UnixNano timestamp used for idle and LRU eviction.
//
// Notes
// -----
//   - `close` is reached only through Pool.dispose, after the entry has been
//     removed from the map, so each entry is closed at most once.
package tenant

import (
	"sync/atomic"

	"github.com/yanizio/tenantdb/internal/client"
)

type entry struct {
	key      string
	client   *client.Client
	lastSeen atomic.Int64 // UnixNano
}

func (e *entry) touch(now int64) { e.lastSeen.Store(now) }

func (e *entry) close() error { return e.client.Close() }

// EvictReason says why an entry left the pool.
type EvictReason string

const (
	ReasonIdle     EvictReason = "idle"
	ReasonLRU      EvictReason = "lru"
	ReasonExplicit EvictReason = "explicit"
	ReasonShutdown EvictReason = "shutdown"
)
