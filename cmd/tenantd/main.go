// cmd/tenantd/main.go
//
// tenantdb HTTP entry point.
//
// Life-cycle
// ----------
//
//  1. Load config (Vault when referenced) and start the daily rotating
//     logger, teed to the console when running in a TTY.
//
//  2. Build the Registry: master DB, audit recorder, record store, tenant
//     pool, provisioning, fleet ops, health.
//
//  3. Serve the status and operator routes with explicit timeouts.
//
//  4. On SIGINT/SIGTERM stop accepting requests, let in-flight ones finish
//     within http.shutdown_timeout, then shut the Registry down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanizio/tenantdb/internal/app"
	"github.com/yanizio/tenantdb/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tenantd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := app.Boot(ctx)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	reg, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Errorw("registry", "err", err)
		return err
	}

	handler := server.New(server.Deps{
		Health:      reg.Health,
		Provisioner: reg.Provision,
		Migrator:    reg.Fleet,
		Verifier:    reg.Verifier,
		Geo:         reg.Geo,
		Logger:      log.Named("http"),
	})
	srv := server.NewHTTPServer(cfg.HTTP, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown requested")
	case err = <-errCh:
		log.Errorw("http server", "err", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Warnw("http shutdown", "err", serr)
	}
	if rerr := reg.Shutdown(sctx); rerr != nil {
		log.Warnw("registry shutdown", "err", rerr)
	}
	return err
}
