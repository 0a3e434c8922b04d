package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantdb/internal/client"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *memSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memSink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func okExec(res client.Result) client.Executor {
	return client.ExecutorFunc(func(context.Context, client.Operation) (client.Result, error) {
		return res, nil
	})
}

func drain(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

var operator = Actor{ID: "op-1", TenantID: "acme", IP: "10.0.0.1", UserAgent: "curl/8", Client: "curl"}

func TestMask_NestedPassword(t *testing.T) {
	type creds struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	in := map[string]any{
		"name": "Ada",
		"profile": map[string]any{
			"settings": []any{
				map[string]any{"Password": "hunter2"},
				map[string]any{"api_key": "k-123"},
			},
		},
		"login":             creds{User: "ada", Password: "s3cret"},
		"connection_string": "postgresql://u:pw@h/db",
	}

	out := Mask(in)
	b, err := json.Marshal(out)
	require.NoError(t, err)
	s := string(b)

	for _, secret := range []string{"hunter2", "k-123", "s3cret", "postgresql://u:pw@h/db"} {
		assert.NotContains(t, s, secret)
	}
	assert.Contains(t, s, "Ada")
	assert.Contains(t, s, `"user":"ada"`)

	inner := in["profile"].(map[string]any)["settings"].([]any)[0].(map[string]any)
	assert.Equal(t, "hunter2", inner["Password"], "input must not be modified")
}

func TestIsSensitive(t *testing.T) {
	for _, k := range []string{"password", "PasswordHash", "refresh_token", "client-secret", "DATABASE_URL", "dsn"} {
		assert.True(t, IsSensitive(k), k)
	}
	for _, k := range []string{"name", "email", "slug", "tokenizer"} {
		assert.False(t, IsSensitive(k), k)
	}
}

func TestWrap_WriteAudited(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink, nil, RecorderOptions{})
	ex := Wrap(okExec(client.Result{RowsAffected: 1, Record: map[string]any{"id": "u9"}}), rec)

	ctx := WithActor(context.Background(), operator)
	res, err := ex.Execute(ctx, client.Operation{
		Model:  "User",
		Action: client.ActionCreate,
		Query:  "INSERT ...",
		Data:   map[string]any{"email": "a@b.c", "password": "hunter2"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)

	drain(t, rec)
	got := sink.all()
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, "create", e.Action)
	assert.Equal(t, "User", e.Entity)
	assert.Equal(t, "u9", e.EntityID)
	assert.Equal(t, "op-1", e.ActorID)
	assert.Equal(t, "acme", e.TenantID)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Contains(t, e.Description, "via curl")
	assert.Equal(t, Redacted, e.Metadata["data"].(map[string]any)["password"])
}

func TestWrap_SkipsReadsAndAnonymous(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink, nil, RecorderOptions{})
	ex := Wrap(okExec(client.Result{}), rec)

	_, err := ex.Execute(WithActor(context.Background(), operator),
		client.Operation{Model: "User", Action: client.ActionFindMany, Query: "SELECT 1"})
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(),
		client.Operation{Model: "User", Action: client.ActionDelete, Query: "DELETE ..."})
	require.NoError(t, err)

	drain(t, rec)
	assert.Empty(t, sink.all())
}

func TestWrap_FailedWriteNotAudited(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink, nil, RecorderOptions{})
	boom := errors.New("unique violation")
	ex := Wrap(client.ExecutorFunc(func(context.Context, client.Operation) (client.Result, error) {
		return client.Result{}, boom
	}), rec)

	_, err := ex.Execute(WithActor(context.Background(), operator),
		client.Operation{Model: "User", Action: client.ActionCreate, Query: "INSERT ..."})
	assert.ErrorIs(t, err, boom)

	drain(t, rec)
	assert.Empty(t, sink.all())
}

func TestWrap_BulkLeavesEntityIDUnset(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink, nil, RecorderOptions{})
	ex := Wrap(okExec(client.Result{RowsAffected: 12}), rec)

	_, err := ex.Execute(WithActor(context.Background(), operator), client.Operation{
		Model:  "Enrollment",
		Action: client.ActionUpdateMany,
		Query:  "UPDATE ...",
		Where:  map[string]any{"id": "e1"},
	})
	require.NoError(t, err)

	drain(t, rec)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].EntityID)
	assert.Contains(t, got[0].Description, "12 rows")
}

func TestWrap_NoSelfAudit(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []client.Operation
	)
	inner := client.ExecutorFunc(func(_ context.Context, op client.Operation) (client.Result, error) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
		return client.Result{RowsAffected: 1}, nil
	})

	// The sink writes through the wrapped executor, as the master client does.
	var wrapped client.Executor
	sink := NewSQLSink(client.ExecutorFunc(func(ctx context.Context, op client.Operation) (client.Result, error) {
		return wrapped.Execute(WithActor(ctx, operator), op)
	}))
	rec := NewRecorder(sink, nil, RecorderOptions{Workers: 1})
	wrapped = Wrap(inner, rec)

	_, err := wrapped.Execute(WithActor(context.Background(), operator), client.Operation{
		Model: "Tenant", Action: client.ActionUpdate, Query: "UPDATE tenants ...",
		Where: map[string]any{"id": "acme"},
	})
	require.NoError(t, err)

	// Give the worker time to perform the audit insert before closing.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ops) == 2
	}, 2*time.Second, 10*time.Millisecond)
	drain(t, rec)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ops, 2, "one user write plus exactly one audit insert")
	assert.Equal(t, Model, ops[1].Model)
}

func TestRecorder_SinkFailureIsSwallowed(t *testing.T) {
	sink := &memSink{err: errors.New("master down")}
	rec := NewRecorder(sink, nil, RecorderOptions{})
	ex := Wrap(okExec(client.Result{RowsAffected: 1}), rec)

	_, err := ex.Execute(WithActor(context.Background(), operator),
		client.Operation{Model: "User", Action: client.ActionUpsert, Query: "INSERT ..."})
	require.NoError(t, err, "audit failure must not reach the caller")

	select {
	case got := <-rec.Errors():
		assert.ErrorIs(t, got, ErrAuditWriteFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error on Errors()")
	}
	drain(t, rec)
}

func TestRecorder_DropsWhenClosed(t *testing.T) {
	rec := NewRecorder(&memSink{}, nil, RecorderOptions{})
	drain(t, rec)
	assert.False(t, rec.Submit(Entry{Action: "create"}))
}

func TestWithTenant(t *testing.T) {
	ctx := WithTenant(WithActor(context.Background(), operator), "globex")
	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "globex", a.TenantID)
	assert.Equal(t, "op-1", a.ID)

	_, ok = FromContext(WithTenant(context.Background(), "x"))
	assert.False(t, ok)
}
