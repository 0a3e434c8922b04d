// internal/schema/schema.go
//
// Tenant schema application.
//
// Context
// -------
// A freshly created tenant database is empty.  A `Pusher` brings it to the
// expected table and column layout.  Two implementations exist:
//
//   - `CommandPusher` runs an external schema-push tool with the target
//     connection string in DATABASE_URL and TENANT_DATABASE_URL.  Exit code
//     0 is success; anything else is ErrSchemaPushFailed with the captured
//     output attached.
//   - `GoosePusher` applies a directory of goose SQL migrations in process.
//
// Provisioning and migrate-all use the same Pusher, so a tenant always gets
// the same schema whichever path touched it last.
package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
)

// ErrSchemaPushFailed is matched by every push failure.
var ErrSchemaPushFailed = errors.New("schema push failed")

// Pusher applies the tenant schema to the database at connStr.
type Pusher interface {
	Push(ctx context.Context, connStr string) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(ctx context.Context, connStr string) error

// Push calls f.
func (f PusherFunc) Push(ctx context.Context, connStr string) error { return f(ctx, connStr) }

// PushError describes a failed external push.  Output is kept for
// diagnostics with any copy of the connection string redacted.
type PushError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *PushError) Error() string {
	msg := fmt.Sprintf("%s: exit %d", ErrSchemaPushFailed, e.ExitCode)
	if e.TimedOut {
		msg = fmt.Sprintf("%s: timed out", ErrSchemaPushFailed)
	}
	if line := lastLine(e.Stderr); line != "" {
		return msg + ": " + line
	}
	if line := lastLine(e.Stdout); line != "" {
		return msg + ": " + line
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap exposes both the sentinel and the process error.
func (e *PushError) Unwrap() []error { return []error{ErrSchemaPushFailed, e.Err} }

// CommandPusher runs an external tool, for example
// `prisma db push --schema=tenant.prisma --skip-generate`.
type CommandPusher struct {
	Command string
	Args    []string
	Dir     string
	Env     []string      // extra KEY=VALUE pairs
	Timeout time.Duration // 0 → caller's deadline only
}

// Push implements Pusher.
func (p *CommandPusher) Push(ctx context.Context, connStr string) error {
	if p.Command == "" {
		return fmt.Errorf("%w: no command configured", ErrSchemaPushFailed)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, "DATABASE_URL="+connStr, "TENANT_DATABASE_URL="+connStr)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		pe := &PushError{
			ExitCode: -1,
			Stdout:   scrub(stdout.String(), connStr),
			Stderr:   scrub(stderr.String(), connStr),
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			pe.ExitCode = exitErr.ExitCode()
		}
		return pe
	}
	return nil
}

// GoosePusher applies goose SQL migrations from FS.
type GoosePusher struct {
	FS      fs.FS
	Timeout time.Duration
}

// NewGoosePusher reads migrations from dir.
func NewGoosePusher(dir string, timeout time.Duration) *GoosePusher {
	return &GoosePusher{FS: os.DirFS(dir), Timeout: timeout}
}

// Push implements Pusher.
func (p *GoosePusher) Push(ctx context.Context, connStr string) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if _, err := database.RunMigrationsURL(ctx, connStr, p.FS); err != nil {
		return fmt.Errorf("%w: %s", ErrSchemaPushFailed, scrub(err.Error(), connStr))
	}
	return nil
}

func scrub(s, connStr string) string {
	if connStr == "" {
		return s
	}
	return strings.ReplaceAll(s, connStr, dsn.Redact(connStr))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
