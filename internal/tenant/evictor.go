// evictor.go houses the eviction passes for Pool.
//
//   - EvictIdle removes clients idle longer than IdleTTL.  The background
//     loop runs it every EvictInterval.
//   - evictLRU removes least-recently-used clients once the map exceeds
//     MaxClients.  It runs synchronously after each insert.
//
// Each eviction is logged and updates Prometheus counters in dispose.
package tenant

import (
	"time"
)

func (p *Pool) evictLoop(every time.Duration) {
	defer close(p.done)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			if n := p.EvictIdle(); n > 0 {
				p.log.Debugw("idle sweep", "evicted", n)
			}
		}
	}
}

// EvictIdle disposes every client idle longer than IdleTTL and returns how
// many it removed.
func (p *Pool) EvictIdle() int {
	now := p.opts.Now().UnixNano()
	var n int
	p.m.Range(func(_, v any) bool {
		ent := v.(*entry)
		if p.expired(ent, now) && p.dispose(ent, ReasonIdle) {
			n++
		}
		return true
	})
	return n
}

// evictLRU trims the pool to MaxClients, oldest lastSeen first.  keep is the
// entry just inserted; it is never chosen.
func (p *Pool) evictLRU(keep string) {
	p.lruMu.Lock()
	defer p.lruMu.Unlock()

	for p.size.Load() > int64(p.opts.MaxClients) {
		var (
			oldest *entry
			at     int64
		)
		p.m.Range(func(k, v any) bool {
			if k.(string) == keep {
				return true
			}
			ent := v.(*entry)
			if seen := ent.lastSeen.Load(); oldest == nil || seen < at {
				oldest, at = ent, seen
			}
			return true
		})
		if oldest == nil {
			return
		}
		p.dispose(oldest, ReasonLRU)
	}
}
