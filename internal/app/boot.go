// internal/app/boot.go
//
// Shared start-up for tenantd and tenantctl: config (with Vault when any
// value needs it), then the file logger.

package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/logger"
	"github.com/yanizio/tenantdb/internal/vault"
)

// Boot loads configuration and starts the logger.  The Vault client is only
// built when the environment or YAML refers to it.
func Boot(ctx context.Context) (*config.Config, *zap.SugaredLogger, error) {
	root := config.RootDir()

	var secrets config.SecretResolver
	if config.NeedsVault(root) {
		vc, err := vault.New(ctx, zap.S())
		if err != nil {
			return nil, nil, fmt.Errorf("vault: %w", err)
		}
		secrets = vc
	}

	cfg, err := config.LoadDir(ctx, root, secrets)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Options{
		Dir:   cfg.Log.Dir,
		Level: cfg.Log.Level,
		Tee:   logger.IsTerminal(os.Stderr),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start logger: %w", err)
	}
	return cfg, log, nil
}
