// internal/config/model.go
//
// Typed configuration model for tenantdb.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   - optional `.env`                            dotenv values,
//   - `conf/tenantdb.yaml`                       primary static file,
//   - `TENANTDB_`-prefixed environment overrides highest precedence.
//
// Any value whose string begins with `vault:` is resolved through Vault
// before unmarshalling, so the model never stores Vault references.
//
// Notes
// -----
//   - Struct tags use `koanf:"..."`.  Koanf ignores `yaml` tags.
//   - Durations accept Go syntax ("30m", "5s").
//   - The `Paths` block is filled at runtime; YAML must not set it.
package config

import (
	"time"

	"github.com/yanizio/tenantdb/internal/dsn"
)

// HTTP holds tenantd server tunables.
type HTTP struct {
	ListenAddr      string        `koanf:"listen_addr"      validate:"required,hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Master describes the master database.
//
// The DSN template stays in YAML so operators can tweak host and flags.
// The password usually comes from Vault and is spliced into the DSN at
// load time.  Every tenant database is reached with the same role.
type Master struct {
	DSN           string `koanf:"dsn"            validate:"required"`
	Password      string `koanf:"password"`
	MaintenanceDB string `koanf:"maintenance_db"`
	MaxOpenConns  int    `koanf:"max_open_conns" validate:"gte=0"`
}

// Pool tunes the tenant client pool.
type Pool struct {
	MaxClients        int           `koanf:"max_clients"          validate:"gte=0"`
	IdleTTL           time.Duration `koanf:"idle_ttl"`
	EvictInterval     time.Duration `koanf:"evict_interval"`
	MaxConnsPerTenant int           `koanf:"max_conns_per_tenant" validate:"gte=0"`
}

// Schema selects how tenant schemas are applied.
type Schema struct {
	Mode    string        `koanf:"mode"    validate:"oneof=command goose"`
	Command string        `koanf:"command" validate:"required_if=Mode command"`
	Args    []string      `koanf:"args"`
	Dir     string        `koanf:"dir"     validate:"required_if=Mode goose"`
	Timeout time.Duration `koanf:"timeout"`
}

// S3 is the optional off-host backup target.
type S3 struct {
	Endpoint     string `koanf:"endpoint"`
	Region       string `koanf:"region"`
	Bucket       string `koanf:"bucket"`
	Prefix       string `koanf:"prefix"`
	AccessKey    string `koanf:"access_key"  validate:"required_with=Bucket"`
	SecretKey    string `koanf:"secret_key"  validate:"required_with=Bucket"`
	UsePathStyle bool   `koanf:"use_path_style"`
}

// Backup controls pg_dump runs.
type Backup struct {
	Dir     string        `koanf:"dir"`
	Command string        `koanf:"command"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
	S3      S3            `koanf:"s3"`
}

// Fleet tunes batch jobs.
type Fleet struct {
	Concurrency int `koanf:"concurrency" validate:"gte=0"`
}

// Audit tunes the background audit writer.
type Audit struct {
	QueueSize    int           `koanf:"queue_size" validate:"gte=0"`
	Workers      int           `koanf:"workers"    validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	GeoIPPath    string        `koanf:"geoip_path"`
}

// Auth configures operator bearer tokens for tenantd.
type Auth struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// Log configures the zap logger.
type Log struct {
	Dir   string `koanf:"dir"`
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Paths is resolved at runtime.
type Paths struct {
	Root string
}

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer.
type Config struct {
	HTTP   HTTP   `koanf:"http"`
	Master Master `koanf:"master"`
	Pool   Pool   `koanf:"pool"`
	Schema Schema `koanf:"schema"`
	Backup Backup `koanf:"backup"`
	Fleet  Fleet  `koanf:"fleet"`
	Audit  Audit  `koanf:"audit"`
	Auth   Auth   `koanf:"auth"`
	Log    Log    `koanf:"log"`
	Paths  Paths  `koanf:"-"`
}

// MasterDescriptor parses the master DSN and applies Master.Password.
func (c *Config) MasterDescriptor() (dsn.Descriptor, error) {
	d, err := dsn.Parse(c.Master.DSN)
	if err != nil {
		return dsn.Descriptor{}, err
	}
	if c.Master.Password != "" {
		d.Password = c.Master.Password
	}
	return d, nil
}
