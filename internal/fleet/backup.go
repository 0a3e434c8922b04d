package fleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanizio/tenantdb/internal/dsn"
)

// Backup describes a finished dump.
type Backup struct {
	TenantID  string
	Path      string
	Size      int64
	ObjectKey string // set when the file was uploaded
}

// BackupFileName is `<slug>-<UTC yyyymmddThhmmssZ>.sql`.
func BackupFileName(slug string, at time.Time) string {
	return fmt.Sprintf("%s-%s.sql", slug, at.UTC().Format("20060102T150405Z"))
}

// BackupTenantDatabase dumps one tenant to the backup directory and, when an
// uploader is configured, ships the file.  Errors propagate.
func (o *Ops) BackupTenantDatabase(ctx context.Context, tenantID string) (Backup, error) {
	rec, err := o.records.ByID(ctx, tenantID)
	if err != nil {
		return Backup{}, err
	}
	conn, err := rec.DSN()
	if err != nil {
		return Backup{}, fmt.Errorf("backup tenant %s: %w", tenantID, err)
	}

	if err := os.MkdirAll(o.backupDir, 0o750); err != nil {
		return Backup{}, fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(o.backupDir, BackupFileName(rec.Slug, o.now()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Backup{}, fmt.Errorf("create backup file: %w", err)
	}
	if err := o.dumper.Dump(ctx, conn, f); err != nil {
		f.Close()
		os.Remove(path)
		return Backup{}, fmt.Errorf("backup tenant %s: %w", tenantID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Backup{}, fmt.Errorf("close backup file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Backup{}, fmt.Errorf("stat backup file: %w", err)
	}
	b := Backup{TenantID: tenantID, Path: path, Size: info.Size()}

	if o.uploader != nil {
		key, err := o.uploader.UploadFile(ctx, path)
		if err != nil {
			return b, fmt.Errorf("backup tenant %s: %w", tenantID, err)
		}
		b.ObjectKey = key
	}

	o.log.Infow("tenant backed up", "tenant", tenantID, "path", path, "bytes", b.Size, "object", b.ObjectKey)
	return b, nil
}

// CommandDumper runs pg_dump (or a compatible tool) with the connection
// string as its last positional argument and streams stdout to the writer.
type CommandDumper struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Dump implements Dumper.
func (d *CommandDumper) Dump(ctx context.Context, connStr string, w io.Writer) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), d.Args...), connStr)
	cmd := exec.CommandContext(ctx, d.Command, args...)
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.ReplaceAll(strings.TrimSpace(stderr.String()), connStr, dsn.Redact(connStr))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", d.Command, err)
		}
		return fmt.Errorf("%s failed: %w: %s", d.Command, err, msg)
	}
	return nil
}
