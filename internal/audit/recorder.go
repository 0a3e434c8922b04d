// internal/audit/recorder.go
//
// Asynchronous audit writer.
//
// Context
// -------
// Audit writes must never slow down or fail the operation they describe.
// `Recorder` decouples the two: `Submit` drops an `Entry` onto a bounded
// queue and returns immediately, and a fixed set of worker goroutines
// persist entries through a `Sink`.
//
// Workflow
// --------
//  1. `Submit` tries a non-blocking send.  A full or closed queue drops the
//     entry, logs a warning, and bumps `audit_dropped_total`.
//  2. Each worker writes one entry under its own timeout, detached from the
//     request that produced it.
//  3. A failed write is wrapped in ErrAuditWriteFailed, logged, counted, and
//     offered on `Errors()` without blocking.
//  4. `Close` stops intake and waits for the queue to drain or ctx to end.
//
// Notes
// -----
//   - Nobody is required to read `Errors()`.  When its buffer is full,
//     further errors are only logged.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/metrics"
)

// ErrAuditWriteFailed marks an entry that could not be persisted.  It is
// never returned to the caller of the audited operation.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Entry is one append-only audit record.
type Entry struct {
	ID          string
	Action      string
	Entity      string
	EntityID    string
	ActorID     string
	TenantID    string
	IPAddress   string
	UserAgent   string
	Country     string
	Metadata    map[string]any
	Description string
	CreatedAt   time.Time
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// RecorderOptions tunes the queue.  Zero values fall back to defaults.
type RecorderOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 2
	defaultWriteTimeout = 5 * time.Second
	errBuffer           = 64
)

// Recorder queues entries and writes them in the background.
type Recorder struct {
	sink    Sink
	log     *zap.SugaredLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	errs   chan error
	wg     sync.WaitGroup
}

// NewRecorder starts the workers.  log may be nil.
func NewRecorder(sink Sink, log *zap.SugaredLogger, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Recorder{
		sink:    sink,
		log:     log,
		timeout: opts.WriteTimeout,
		queue:   make(chan Entry, opts.QueueSize),
		errs:    make(chan error, errBuffer),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues e without blocking.  It reports whether e was accepted.
func (r *Recorder) Submit(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.AuditDroppedTotal.Inc()
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		metrics.AuditDroppedTotal.Inc()
		r.log.Warnw("audit queue full, entry dropped",
			"action", e.Action, "entity", e.Entity, "tenant", e.TenantID)
		return false
	}
}

// Errors exposes write failures.  The channel is closed after Close returns
// and every worker has exited.
func (r *Recorder) Errors() <-chan error { return r.errs }

// Close stops intake and waits for queued entries to be written.  It returns
// ctx.Err() if the drain does not finish in time; workers keep draining in
// the background in that case.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
		go func() {
			r.wg.Wait()
			close(r.errs)
		}()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sink.Write(ctx, e); err != nil {
		err = fmt.Errorf("%w: %s %s: %v", ErrAuditWriteFailed, e.Action, e.Entity, err)
		metrics.AuditWriteFailuresTotal.Inc()
		r.log.Warnw("audit write failed", "tenant", e.TenantID, "err", err)
		select {
		case r.errs <- err:
		default:
		}
		return
	}
	metrics.AuditWritesTotal.Inc()
}
