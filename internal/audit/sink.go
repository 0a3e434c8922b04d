package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yanizio/tenantdb/internal/client"
)

// Model is the logical name of the audit table.  Operations on it are never
// audited.
const Model = "AuditLog"

const insertEntry = `
        INSERT INTO audit_logs
               (id, action, entity, entity_id, actor_id, tenant_id, ip_address,
                user_agent, country, metadata, description, created_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
                NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)`

// SQLSink writes entries to the master database's audit_logs table.
type SQLSink struct {
	exec client.Executor
}

// NewSQLSink returns a sink running on exec.  Passing the audit-wrapped
// master executor is fine: writes to Model bypass interception.
func NewSQLSink(exec client.Executor) *SQLSink {
	return &SQLSink{exec: exec}
}

// Write implements Sink.
func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.exec.Execute(ctx, client.Operation{
		Model:  Model,
		Action: client.ActionCreate,
		Query:  insertEntry,
		Args: []any{
			e.ID, e.Action, e.Entity, e.EntityID, e.ActorID, e.TenantID,
			e.IPAddress, e.UserAgent, e.Country, string(meta), e.Description,
			e.CreatedAt,
		},
	})
	return err
}
