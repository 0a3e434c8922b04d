package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "pgx"), mock
}

func TestSQLExecutor_Read(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name FROM courses WHERE term = $1`)).
		WithArgs("fall").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("c1", []byte("Algebra")).
			AddRow("c2", "Biology"))

	res, err := NewSQLExecutor(db).Execute(context.Background(), Operation{
		Model:  "Course",
		Action: ActionFindMany,
		Query:  `SELECT id, name FROM courses WHERE term = $1`,
		Args:   []any{"fall"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Algebra", res.Rows[0]["name"], "[]byte columns are converted to string")
	assert.Equal(t, "c1", res.Record["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_Write(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE courses SET name = $1`)).
		WithArgs("x").
		WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := NewSQLExecutor(db).Execute(context.Background(), Operation{
		Model:  "Course",
		Action: ActionUpdateMany,
		Query:  `UPDATE courses SET name = $1`,
		Args:   []any{"x"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_WriteReturning(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO courses (name) VALUES ($1) RETURNING id`)).
		WithArgs("Chem").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c9"))

	res, err := NewSQLExecutor(db).Execute(context.Background(), Operation{
		Model:     "Course",
		Action:    ActionCreate,
		Query:     `INSERT INTO courses (name) VALUES ($1) RETURNING id`,
		Args:      []any{"Chem"},
		Returning: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "c9", res.Record["id"])
	assert.EqualValues(t, 1, res.RowsAffected)
}

func TestSQLExecutor_EmptyQuery(t *testing.T) {
	db, _ := newMock(t)
	defer db.Close()

	_, err := NewSQLExecutor(db).Execute(context.Background(), Operation{Action: ActionCreate})
	require.Error(t, err)
}

func TestClient_ClosedRefusesWork(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectClose()

	calls := 0
	c := New(db, ExecutorFunc(func(ctx context.Context, op Operation) (Result, error) {
		calls++
		return Result{}, nil
	}))

	_, err := c.Execute(context.Background(), Operation{})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")
	assert.True(t, c.Closed())

	_, err = c.Execute(context.Background(), Operation{})
	assert.ErrorIs(t, err, ErrClientEvicted)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrClientEvicted)
	assert.Equal(t, 1, calls)
}

func TestActionKinds(t *testing.T) {
	assert.True(t, ActionUpsert.IsWrite())
	assert.True(t, ActionDeleteMany.IsWrite())
	assert.False(t, ActionFindUnique.IsWrite())
	assert.False(t, ActionCount.IsWrite())
	assert.True(t, ActionUpdateMany.IsBulk())
	assert.False(t, ActionUpdate.IsBulk())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrPoolExhausted)))
	assert.True(t, IsRetryable(ErrClientEvicted))
	assert.True(t, IsRetryable(&pgconn.ConnectError{}))
	assert.False(t, IsRetryable(errors.New("tenant not found")))
	assert.False(t, IsRetryable(nil))
}
