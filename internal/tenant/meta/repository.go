// internal/tenant/meta/repository.go
//
// Tenants-table queries.
//
// Context
// -------
// `Store` is the only code that reads or writes the **tenants** table.  It
// runs on a `client.Executor` bound to the master database, normally the
// audit-wrapped master client, so status transitions show up in the audit
// log with the actor carried by the caller's context.
//
// Notes
// -----
//   - Column list matches the fields in `Record`; update both together.
//   - Every mutating helper returns ErrTenantNotFound when no row matched.
//   - `Where` and `Data` on each operation describe the write for the audit
//     layer.  They do not affect the SQL.
package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/yanizio/tenantdb/internal/client"
)

// Model is the logical model name used for audit entries.
const Model = "Tenant"

const selectColumns = `
        SELECT id, slug, database_name, connection_string, database_status,
               suspend_reason, created_at, updated_at
        FROM   tenants`

// Store reads and writes tenant records.
type Store struct {
	exec client.Executor
}

// NewStore returns a Store backed by exec.
func NewStore(exec client.Executor) *Store {
	return &Store{exec: exec}
}

// ByID fetches one tenant.  Missing rows yield ErrTenantNotFound.
func (s *Store) ByID(ctx context.Context, id string) (*Record, error) {
	res, err := s.exec.Execute(ctx, client.Operation{
		Model:  Model,
		Action: client.ActionFindUnique,
		Query:  selectColumns + ` WHERE id = $1 LIMIT 1`,
		Args:   []any{id},
		Where:  map[string]any{"id": id},
	})
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	if res.Record == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return recordFromRow(res.Record)
}

// ListByStatus returns every tenant in the given state, ordered by slug.
func (s *Store) ListByStatus(ctx context.Context, st Status) ([]Record, error) {
	res, err := s.exec.Execute(ctx, client.Operation{
		Model:  Model,
		Action: client.ActionFindMany,
		Query:  selectColumns + ` WHERE database_status = $1 ORDER BY slug`,
		Args:   []any{string(st)},
		Where:  map[string]any{"databaseStatus": string(st)},
	})
	if err != nil {
		return nil, fmt.Errorf("list %s tenants: %w", st, err)
	}
	out := make([]Record, 0, len(res.Rows))
	for _, row := range res.Rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// SetProvisioning marks the start of a provisioning attempt and clears any
// reason left by an earlier failure.
func (s *Store) SetProvisioning(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE tenants
            SET database_status = $2, suspend_reason = NULL, updated_at = now()
          WHERE id = $1`,
		[]any{id, string(StatusProvisioning)},
		map[string]any{"databaseStatus": string(StatusProvisioning), "suspendReason": nil},
	)
}

// MarkActive records a provisioned database.
func (s *Store) MarkActive(ctx context.Context, id, dbName, dsn string) error {
	return s.update(ctx, id,
		`UPDATE tenants
            SET database_name = $2, connection_string = $3, database_status = $4,
                suspend_reason = NULL, updated_at = now()
          WHERE id = $1`,
		[]any{id, dbName, dsn, string(StatusActive)},
		map[string]any{
			"databaseName":     dbName,
			"connectionString": dsn,
			"databaseStatus":   string(StatusActive),
		},
	)
}

// MarkFailed records a failed attempt.  The connection string is left as it
// was: a failure before MarkActive never set one.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.update(ctx, id,
		`UPDATE tenants
            SET database_status = $2, suspend_reason = $3, updated_at = now()
          WHERE id = $1`,
		[]any{id, string(StatusFailed), reason},
		map[string]any{"databaseStatus": string(StatusFailed), "suspendReason": reason},
	)
}

// MarkInactive clears connectivity after the database has been dropped.
func (s *Store) MarkInactive(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE tenants
            SET database_name = NULL, connection_string = NULL,
                database_status = $2, updated_at = now()
          WHERE id = $1`,
		[]any{id, string(StatusInactive)},
		map[string]any{
			"databaseName":     nil,
			"connectionString": nil,
			"databaseStatus":   string(StatusInactive),
		},
	)
}

func (s *Store) update(ctx context.Context, id, q string, args []any, data map[string]any) error {
	res, err := s.exec.Execute(ctx, client.Operation{
		Model:  Model,
		Action: client.ActionUpdate,
		Query:  q,
		Args:   args,
		Where:  map[string]any{"id": id},
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", id, err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

//
// row decoding
//

func recordFromRow(row map[string]any) (*Record, error) {
	rec := &Record{
		ID:               str(row["id"]),
		Slug:             str(row["slug"]),
		DatabaseName:     strPtr(row["database_name"]),
		ConnectionString: strPtr(row["connection_string"]),
		DatabaseStatus:   Status(str(row["database_status"])),
		SuspendReason:    strPtr(row["suspend_reason"]),
		CreatedAt:        timeOf(row["created_at"]),
		UpdatedAt:        timeOf(row["updated_at"]),
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("tenant row without id")
	}
	if !rec.DatabaseStatus.Valid() {
		return nil, fmt.Errorf("tenant %s: unknown database_status %q", rec.ID, rec.DatabaseStatus)
	}
	return rec, nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func strPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := str(v)
	return &s
}

func timeOf(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
