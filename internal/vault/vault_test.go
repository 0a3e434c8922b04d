package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKV struct {
	data  map[string]map[string]any
	calls int
}

func (f *fakeKV) Get(_ context.Context, mount, path string) (map[string]any, error) {
	f.calls++
	return f.data[mount+"/"+path], nil
}

func TestParseReference(t *testing.T) {
	p, k, err := ParseReference("vault:secret/tenantdb/master#password")
	require.NoError(t, err)
	assert.Equal(t, "secret/tenantdb/master", p)
	assert.Equal(t, "password", k)

	for _, bad := range []string{"secret/x#y", "vault:secret#y", "vault:secret/x", "vault:secret/x#", "vault:#k"} {
		_, _, err := ParseReference(bad)
		assert.ErrorIs(t, err, ErrBadReference, bad)
	}
}

func TestResolve_Caches(t *testing.T) {
	kv := &fakeKV{data: map[string]map[string]any{
		"secret/tenantdb": {"master_password": "pw", "port": 5432},
	}}
	c := newClient(kv, zap.NewNop().Sugar())
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	v, err := c.Resolve(ctx, "vault:secret/tenantdb#master_password")
	require.NoError(t, err)
	assert.Equal(t, "pw", v)
	_, _ = c.Resolve(ctx, "vault:secret/tenantdb#master_password")
	assert.Equal(t, 1, kv.calls)

	now = now.Add(DefaultTTL + time.Second)
	_, _ = c.Resolve(ctx, "vault:secret/tenantdb#master_password")
	assert.Equal(t, 2, kv.calls)

	_, err = c.Resolve(ctx, "vault:secret/tenantdb#missing")
	assert.Error(t, err)
	_, err = c.Resolve(ctx, "vault:secret/tenantdb#port")
	assert.ErrorContains(t, err, "not a string")
}
