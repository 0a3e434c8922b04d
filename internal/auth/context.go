// internal/auth/context.go
//
// Operator identity helper.
//
// Usage
// -----
//     ctx = auth.WithOperator(ctx, "ops@example.com")
//     sub, ok := auth.Operator(ctx)   // "ops@example.com", true
//
// Notes
// -----
// • The subject is the `sub` claim of a verified bearer token, or the
//   local user name when tenantctl runs a command directly.

package auth

import "context"

// operatorKey is unexported to avoid context-key collisions.
type operatorKey struct{}

// WithOperator returns a new context carrying the operator subject.
func WithOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, operatorKey{}, subject)
}

// Operator extracts the subject from ctx.  It returns ("", false) when no
// operator is set.
func Operator(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorKey{}).(string)
	return v, ok && v != ""
}
