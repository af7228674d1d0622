package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/screenbridge/internal/pathutil"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "screenbridge",
		Short: "Approval bridge between a screen-automation agent and its remote review UI",
		Long: `screenbridge relays approval requests between an automation agent that
proposes screen actions and a detached UI surface that approves them.
It also ships the client-side permission gate and the action executor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.screenbridge/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newPendingCmd(),
		newDecideCmd(),
		newTasksCmd(),
		newApproveCmd(),
		newAllowAllCmd(),
		newExecCmd(),
		newStatusCmd(),
		newInitCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() error {
	setDefaults()

	if strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(pathutil.ExpandHomePath(cfgFile))
	} else {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			viper.AddConfigPath(filepath.Join(home, ".screenbridge"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCREENBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default config is fine; an explicitly named one is not.
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if !missing || strings.TrimSpace(cfgFile) != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	setupLogger()
	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")

	viper.SetDefault("bridge.host", "127.0.0.1")
	viper.SetDefault("bridge.port", 8808)
	viper.SetDefault("bridge.max_conns", 64)
	viper.SetDefault("bridge.base_url", "")
	viper.SetDefault("bridge.permission.decided_ttl", "30m")
	viper.SetDefault("bridge.permission.pending_ttl", "10m")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.automigrate", true)
	viper.SetDefault("db.pool.max_open_conns", 1)
	viper.SetDefault("db.pool.max_idle_conns", 1)
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", true)

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.jsonl_path", "~/.screenbridge/approval_audit.jsonl")
	viper.SetDefault("audit.rotate_max_bytes", int64(100*1024*1024))

	viper.SetDefault("gate.poll_interval", "500ms")
	viper.SetDefault("gate.poll_timeout", "300s")
	viper.SetDefault("gate.allow_all_minutes", 30)
	viper.SetDefault("gate.skip_types", []string{})

	viper.SetDefault("executor.artifact_dir", "~/.screenbridge/screenshots")
	viper.SetDefault("executor.failsafe_margin", 5)
}

func setupLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.level"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
