package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLExecutor runs operations directly on a sqlx pool.  It is the innermost
// layer of every client.
type SQLExecutor struct {
	db *sqlx.DB
}

// NewSQLExecutor wraps db.
func NewSQLExecutor(db *sqlx.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Execute implements Executor.
func (e *SQLExecutor) Execute(ctx context.Context, op Operation) (Result, error) {
	if op.Query == "" {
		return Result{}, errors.New("client: empty query")
	}

	if !op.Action.IsWrite() || op.Returning {
		return e.query(ctx, op)
	}

	res, err := e.db.ExecContext(ctx, op.Query, op.Args...)
	if err != nil {
		return Result{}, classify(e.db, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("rows affected: %w", err)
	}
	return Result{RowsAffected: n}, nil
}

func (e *SQLExecutor) query(ctx context.Context, op Operation) (Result, error) {
	rows, err := e.db.QueryxContext(ctx, op.Query, op.Args...)
	if err != nil {
		return Result{}, classify(e.db, err)
	}
	defer rows.Close()

	var out Result
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return Result{}, fmt.Errorf("scan %s row: %w", op.Model, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, classify(e.db, err)
	}
	if len(out.Rows) > 0 {
		out.Record = out.Rows[0]
	}
	if op.Action.IsWrite() {
		out.RowsAffected = int64(len(out.Rows))
	}
	return out, nil
}
