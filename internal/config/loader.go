// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` from three layers (highest
precedence last):

  1. Optional `conf/.env`.
  2. `conf/tenantdb.yaml` (optional; defaults fill the gaps).
  3. Environment variables prefixed `TENANTDB_`, where `__` maps to "."
     (e.g. `TENANTDB_MASTER__DSN → master.dsn`).

Values starting with `vault:` are then resolved through the supplied
SecretResolver.  The merged tree is unmarshalled, defaulted, validated,
and cached in an `atomic.Pointer` for lock-free reads.

Notes
-----
  - `rootDir()` climbs from the cwd until it finds `conf/tenantdb.yaml`, so
    `go run ./cmd/tenantctl` works from any sub-directory.
  - Logs use the global sugared logger (`zap.S()`), which is a no-op until
    the file logger is installed.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/vault"
)

const (
	envPrefix = "TENANTDB_"
	fileName  = "tenantdb.yaml"
)

var current atomic.Pointer[Config]

// SecretResolver turns a `vault:` reference into its value.
// *vault.Client satisfies it.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// rootDir resolves TENANTDB_ROOT or climbs directories until
// conf/tenantdb.yaml is found.
func rootDir() string {
	if r := os.Getenv("TENANTDB_ROOT"); r != "" {
		return r
	}
	wd, _ := os.Getwd()
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "conf", fileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return wd
}

// Load reads configuration from the discovered root.
func Load(ctx context.Context, secrets SecretResolver) (*Config, error) {
	return LoadDir(ctx, rootDir(), secrets)
}

// LoadDir reads .env, YAML, env overrides, resolves secrets, validates, and
// caches Config.
func LoadDir(ctx context.Context, root string, secrets SecretResolver) (*Config, error) {
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", fileName)
	if _, err := os.Stat(yamlPath); err == nil {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, fmt.Errorf("load %s: %w", yamlPath, err)
		}
	}

	// TENANTDB_MASTER__DSN → master.dsn
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	if err := resolveSecrets(ctx, k, secrets); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Paths.Root = root
	applyDefaults(&cfg)

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"root", root,
		"listen_addr", cfg.HTTP.ListenAddr,
		"schema_mode", cfg.Schema.Mode,
		"max_clients", cfg.Pool.MaxClients,
	)
	return &cfg, nil
}

// Get returns the last loaded Config, or nil.
func Get() *Config { return current.Load() }

// NeedsVault reports whether the environment or YAML under root refers to
// Vault.  cmd uses it to decide whether to build a Vault client at all.
func NeedsVault(root string) bool {
	if os.Getenv("VAULT_ADDR") != "" {
		return true
	}
	b, err := os.ReadFile(filepath.Join(root, "conf", fileName))
	return err == nil && strings.Contains(string(b), vault.Prefix)
}

// RootDir exposes root discovery to cmd.
func RootDir() string { return rootDir() }

func resolveSecrets(ctx context.Context, k *koanf.Koanf, secrets SecretResolver) error {
	for key, val := range k.All() {
		s, ok := val.(string)
		if !ok || !vault.IsReference(s) {
			continue
		}
		if secrets == nil {
			return fmt.Errorf("%s refers to vault but no vault client is configured", key)
		}
		plain, err := secrets.Resolve(ctx, s)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", key, err)
		}
		if err := k.Set(key, plain); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "127.0.0.1:8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 10 * time.Minute // provisioning runs inline
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if c.Master.MaintenanceDB == "" {
		c.Master.MaintenanceDB = "postgres"
	}
	if c.Schema.Mode == "" {
		c.Schema.Mode = "command"
	}
	if c.Schema.Timeout == 0 {
		c.Schema.Timeout = 5 * time.Minute
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.Paths.Root, "backups")
	}
	if c.Backup.Command == "" {
		c.Backup.Command = "pg_dump"
	}
	if c.Backup.Timeout == 0 {
		c.Backup.Timeout = 30 * time.Minute
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.Paths.Root, "logs")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
