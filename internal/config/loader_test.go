package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := m[ref]; ok {
		return v, nil
	}
	return "", errors.New("no such secret")
}

func writeConf(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "tenantdb.yaml"), []byte(body), 0o600))
	return root
}

const sample = `
master:
  dsn: postgresql://svc@db:5432/master?sslmode=require
  password: "vault:secret/tenantdb#master_password"
pool:
  max_clients: 20
  idle_ttl: 10m
schema:
  mode: command
  command: npx
  args: ["prisma", "db", "push", "--skip-generate"]
`

func TestLoadDir(t *testing.T) {
	root := writeConf(t, sample)
	t.Setenv("TENANTDB_POOL__MAX_CONNS_PER_TENANT", "3")

	cfg, err := LoadDir(context.Background(), root, mapResolver{
		"vault:secret/tenantdb#master_password": "s3cret",
	})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Master.Password)
	assert.Equal(t, 20, cfg.Pool.MaxClients)
	assert.Equal(t, 10*time.Minute, cfg.Pool.IdleTTL)
	assert.Equal(t, 3, cfg.Pool.MaxConnsPerTenant, "env overlay strips the prefix")
	assert.Equal(t, []string{"prisma", "db", "push", "--skip-generate"}, cfg.Schema.Args)
	assert.Equal(t, "postgres", cfg.Master.MaintenanceDB)
	assert.Equal(t, filepath.Join(root, "backups"), cfg.Backup.Dir)
	assert.Same(t, cfg, Get())

	d, err := cfg.MasterDescriptor()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", d.Password)
	assert.Equal(t, "master", d.Database)
}

func TestLoadDir_VaultWithoutClient(t *testing.T) {
	root := writeConf(t, sample)
	_, err := LoadDir(context.Background(), root, nil)
	assert.ErrorContains(t, err, "master.password")
}

func TestLoadDir_Validation(t *testing.T) {
	cases := map[string]string{
		"missing dsn":   `schema: {mode: command, command: x}`,
		"bad dsn":       "master: {dsn: \"mysql://x@y/z\"}\nschema: {mode: command, command: x}",
		"bad mode":      "master: {dsn: \"postgresql://x@y/z\"}\nschema: {mode: magic}",
		"no command":    "master: {dsn: \"postgresql://x@y/z\"}\nschema: {mode: command}",
		"goose w/o dir": "master: {dsn: \"postgresql://x@y/z\"}\nschema: {mode: goose}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadDir(context.Background(), writeConf(t, body), nil)
			assert.Error(t, err)
		})
	}
}
