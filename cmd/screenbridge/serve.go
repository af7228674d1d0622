package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/screenbridge/bridge"
	"github.com/quailyquaily/screenbridge/db"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the approval broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	lg := slog.Default()

	dbCfg := dbConfigFromViper()
	gdb, err := db.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if dbCfg.AutoMigrate {
		if err := db.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	perms := bridge.NewPermissionQueue(lg)
	if decided, pending := permissionTTLsFromViper(); decided > 0 || pending > 0 {
		perms.SetTTLs(decided, pending)
	}

	tasks, err := bridge.NewTaskQueue(gdb, lg)
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	cookies, err := bridge.NewCookieStore(gdb)
	if err != nil {
		return fmt.Errorf("cookie store: %w", err)
	}

	audit, err := auditSinkFromViper(lg)
	if err != nil {
		return err
	}

	srv, err := bridge.NewServer(serverConfigFromViper(), perms, tasks, cookies, audit, lg)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		lg.Info("bridge_signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	lg.Info("bridge_stopped")
	return nil
}
