// internal/audit/actor.go
//
// Actor context helpers.
//
// Context
// -------
// The audit layer needs to know who issued a write.  Callers attach an
// `Actor` to the `context.Context` they pass into the data layer: the HTTP
// middleware does it per request, `tenantctl` does it once per command.
// When no actor is present the write still runs but is not audited.
//
// Usage
// -----
//
//	ctx = audit.WithActor(ctx, audit.Actor{ID: "op-17", TenantID: "acme"})
//	_, err := cl.Execute(ctx, op)   // audited as op-17
package audit

import "context"

// Actor identifies who performed an operation and from where.  Every field
// is best effort; only the presence of an Actor turns auditing on.
type Actor struct {
	ID        string
	TenantID  string
	IP        string
	UserAgent string
	Country   string // ISO code from GeoLite2, empty when unknown
	Client    string // short UA summary such as "Firefox/macOS"
}

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the Actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// WithTenant returns ctx with the actor's tenant id replaced.  A context with
// no actor is returned unchanged.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	a, ok := FromContext(ctx)
	if !ok {
		return ctx
	}
	a.TenantID = tenantID
	return WithActor(ctx, a)
}
