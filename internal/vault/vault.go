// internal/vault/vault.go
//
// Vault client wrapper for tenantdb.
//
// Context
// -------
//   - Wraps the HashiCorp Vault Go SDK for the one job tenantdb needs: turning
//     `vault:<mount>/<path>#<key>` references in configuration into plain
//     strings (master password, S3 keys, JWT secret).
//   - Caches values per path#key and keeps the token alive in the background
//     for long-running `tenantd` processes.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, log)                  // during boot.
//  2. pw,  err := cli.Resolve(ctx, "vault:secret/tenantdb#master_password")
//
// Notes
// -----
//   - VAULT_ADDR and VAULT_TOKEN come from the environment, as with the
//     vault CLI.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Prefix marks a configuration value as a Vault reference.
const Prefix = "vault:"

// DefaultTTL is how long resolved values are cached.
const DefaultTTL = 5 * time.Minute

// ErrBadReference is returned for strings that do not parse as references.
var ErrBadReference = errors.New("malformed vault reference")

// kvReader is the slice of the SDK GetKV needs.
type kvReader interface {
	Get(ctx context.Context, mount, path string) (map[string]any, error)
}

type sdkKV struct{ api *vault.Client }

func (s sdkKV) Get(ctx context.Context, mount, path string) (map[string]any, error) {
	sec, err := s.api.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return sec.Data, nil
}

// Client is safe for concurrent use.  Create once at startup.
type Client struct {
	api *vault.Client
	kv  kvReader
	log *zap.SugaredLogger

	cacheMu sync.RWMutex
	cache   map[string]cached // path#key → value + expiry
	now     func() time.Time
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client from the environment and starts the token
// renewal loop, which stops when ctx ends.
func New(ctx context.Context, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	c := newClient(sdkKV{api: api}, log)
	c.api = api
	go c.renewLoop(ctx)
	return c, nil
}

func newClient(kv kvReader, log *zap.SugaredLogger) *Client {
	return &Client{kv: kv, log: log, cache: make(map[string]cached), now: time.Now}
}

// IsReference reports whether s should be resolved through Vault.
func IsReference(s string) bool { return strings.HasPrefix(s, Prefix) }

// ParseReference splits `vault:<mount>/<path>#<key>`.
func ParseReference(ref string) (secretPath, key string, err error) {
	if !IsReference(ref) {
		return "", "", fmt.Errorf("%w: %q", ErrBadReference, ref)
	}
	body := strings.TrimPrefix(ref, Prefix)
	i := strings.LastIndexByte(body, '#')
	if i <= 0 || i == len(body)-1 || !strings.Contains(body[:i], "/") {
		return "", "", fmt.Errorf("%w: %q", ErrBadReference, ref)
	}
	return body[:i], body[i+1:], nil
}

// Resolve returns the secret a reference points at, cached for DefaultTTL.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	p, key, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	return c.GetKV(ctx, p, key, DefaultTTL)
}

// GetKV fetches a single key from a KV-v2 secret.  If ttl > 0 the result is
// cached for that duration.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}
	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		cv, ok := c.cache[canonical]
		c.cacheMu.RUnlock()
		if ok && c.now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, rel := splitMount(secretPath)
	data, err := c.kv.Get(ctx, mount, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: c.now().Add(ttl)}
		c.cacheMu.Unlock()
	}
	return sval, nil
}

//
// token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		wait := c.renewOnce(ctx)
		backoff(ctx, wait)
	}
}

// renewOnce keeps the token alive until the renewer stops and returns how
// long to wait before trying again.
func (c *Client) renewOnce(ctx context.Context) time.Duration {
	sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
	if err != nil {
		c.log.Warnw("vault token renew failed", "err", err)
		return 30 * time.Second
	}
	if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
		c.log.Infow("vault token not renewable")
		return time.Hour
	}

	w, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
	if err != nil {
		c.log.Warnw("vault lifetime watcher", "err", err)
		return 30 * time.Second
	}
	go w.Start()
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warnw("vault token renewal stopped", "err", err)
			}
			return 15 * time.Second
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debugw("vault token renewed", "ttl_s", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func splitMount(p string) (mount, rel string) {
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func backoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
