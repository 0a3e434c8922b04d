// internal/client/operation.go
//
// Query operations and the Executor capability.
//
// Context
// -------
// Every read or write against the master or a tenant database is described
// by one `Operation`: the logical model it touches, the action kind, the SQL
// to run, and the descriptive `Where` / `Data` payloads that the audit layer
// records.  An `Executor` runs operations.  Cross-cutting behaviour (audit,
// eviction guards) is layered by wrapping one Executor in another.
//
// Notes
// -----
//   - `Where` and `Data` never influence the SQL.  They exist so wrappers can
//     observe intent without parsing statements.
//   - Set `Returning` when a write uses RETURNING so the executor collects the
//     row instead of calling Exec.
package client

import "context"

// Action is the kind of operation, named after the generic CRUD verbs.
type Action string

const (
	ActionFindUnique Action = "findUnique"
	ActionFindMany   Action = "findMany"
	ActionCount      Action = "count"
	ActionCreate     Action = "create"
	ActionCreateMany Action = "createMany"
	ActionUpdate     Action = "update"
	ActionUpdateMany Action = "updateMany"
	ActionDelete     Action = "delete"
	ActionDeleteMany Action = "deleteMany"
	ActionUpsert     Action = "upsert"
)

// IsWrite reports whether the action mutates data.
func (a Action) IsWrite() bool {
	switch a {
	case ActionCreate, ActionCreateMany, ActionUpdate, ActionUpdateMany,
		ActionDelete, ActionDeleteMany, ActionUpsert:
		return true
	}
	return false
}

// IsBulk reports whether the action may touch many rows at once.
func (a Action) IsBulk() bool {
	switch a {
	case ActionCreateMany, ActionUpdateMany, ActionDeleteMany:
		return true
	}
	return false
}

// Operation is one statement plus the metadata wrappers need.
type Operation struct {
	Model     string
	Action    Action
	Query     string
	Args      []any
	Where     map[string]any
	Data      map[string]any
	Returning bool
}

// Result carries whatever the statement produced.  Reads and RETURNING
// writes fill Rows; Record is a shortcut to the first row.
type Result struct {
	RowsAffected int64
	Rows         []map[string]any
	Record       map[string]any
}

// Executor runs operations.
type Executor interface {
	Execute(ctx context.Context, op Operation) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op Operation) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, op Operation) (Result, error) {
	return f(ctx, op)
}
