// internal/audit/wrap.go
//
// Audit interception decorator.
//
// Context
// -------
// `Wrap` returns a `client.Executor` with the same surface as the one it
// wraps.  Reads pass straight through.  Writes run first, and only after
// they succeed is an `Entry` built from the masked payload and handed to the
// `Recorder`.  The caller gets the inner result and error untouched.
//
// Notes
// -----
//   - Model `AuditLog` is never intercepted, otherwise every audit insert
//     would produce another audit insert.
//   - Bulk actions leave EntityID empty.  The id of one row would misstate
//     what happened.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/yanizio/tenantdb/internal/client"
)

type executor struct {
	inner client.Executor
	rec   *Recorder
	now   func() time.Time
}

// Wrap decorates inner with audit interception.  A nil rec disables auditing
// and returns inner as is.
func Wrap(inner client.Executor, rec *Recorder) client.Executor {
	if rec == nil {
		return inner
	}
	return &executor{inner: inner, rec: rec, now: time.Now}
}

// Execute implements client.Executor.
func (e *executor) Execute(ctx context.Context, op client.Operation) (client.Result, error) {
	res, err := e.inner.Execute(ctx, op)
	if err != nil || !op.Action.IsWrite() || op.Model == Model {
		return res, err
	}
	actor, ok := FromContext(ctx)
	if !ok {
		return res, nil
	}
	e.rec.Submit(e.entry(actor, op, res))
	return res, nil
}

func (e *executor) entry(a Actor, op client.Operation, res client.Result) Entry {
	meta := make(map[string]any, 2)
	if len(op.Where) > 0 {
		meta["where"] = Mask(op.Where)
	}
	if len(op.Data) > 0 {
		meta["data"] = Mask(op.Data)
	}

	return Entry{
		Action:      string(op.Action),
		Entity:      op.Model,
		EntityID:    entityID(op, res),
		ActorID:     a.ID,
		TenantID:    a.TenantID,
		IPAddress:   a.IP,
		UserAgent:   a.UserAgent,
		Country:     a.Country,
		Metadata:    meta,
		Description: describe(a, op, res),
		CreatedAt:   e.now().UTC(),
	}
}

func entityID(op client.Operation, res client.Result) string {
	if op.Action.IsBulk() {
		return ""
	}
	if v, ok := op.Where["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	if v, ok := res.Record["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func describe(a Actor, op client.Operation, res client.Result) string {
	d := fmt.Sprintf("%s %s", op.Action, op.Model)
	if op.Action.IsBulk() {
		d += fmt.Sprintf(" (%d rows)", res.RowsAffected)
	}
	if a.ID != "" {
		d += " by " + a.ID
	}
	if a.Client != "" {
		d += " via " + a.Client
	}
	return d
}
