package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quailyquaily/screenbridge/bridge"
	"github.com/quailyquaily/screenbridge/db"
	"github.com/quailyquaily/screenbridge/executor"
	"github.com/quailyquaily/screenbridge/gate"
	"github.com/quailyquaily/screenbridge/internal/pathutil"
)

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()
	if v := strings.TrimSpace(viper.GetString("db.driver")); v != "" {
		cfg.Driver = v
	}
	cfg.DSN = strings.TrimSpace(viper.GetString("db.dsn"))
	cfg.AutoMigrate = viper.GetBool("db.automigrate")
	if v := viper.GetInt("db.pool.max_open_conns"); v > 0 {
		cfg.Pool.MaxOpenConns = v
	}
	if v := viper.GetInt("db.pool.max_idle_conns"); v > 0 {
		cfg.Pool.MaxIdleConns = v
	}
	if v := viper.GetInt("db.sqlite.busy_timeout_ms"); v > 0 {
		cfg.SQLite.BusyTimeoutMs = v
	}
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")
	return cfg
}

func serverConfigFromViper() bridge.ServerConfig {
	cfg := bridge.DefaultServerConfig()
	if v := strings.TrimSpace(viper.GetString("bridge.host")); v != "" {
		cfg.Host = v
	}
	if v := viper.GetInt("bridge.port"); v > 0 {
		cfg.Port = v
	}
	if v := viper.GetInt("bridge.max_conns"); v > 0 {
		cfg.MaxConns = v
	}
	return cfg
}

func permissionTTLsFromViper() (decided, pending time.Duration) {
	decided = viper.GetDuration("bridge.permission.decided_ttl")
	pending = viper.GetDuration("bridge.permission.pending_ttl")
	return decided, pending
}

func auditSinkFromViper(lg *slog.Logger) (*bridge.JSONLAuditSink, error) {
	if !viper.GetBool("audit.enabled") {
		return nil, nil
	}
	path := pathutil.ExpandHomePath(strings.TrimSpace(viper.GetString("audit.jsonl_path")))
	if path == "" {
		return nil, nil
	}
	sink, err := bridge.NewJSONLAuditSink(path, viper.GetInt64("audit.rotate_max_bytes"))
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	if lg != nil {
		lg.Info("audit_sink_enabled", "path", path)
	}
	return sink, nil
}

func baseURLFromViper() string {
	if v := strings.TrimSpace(viper.GetString("bridge.base_url")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return fmt.Sprintf("http://%s:%d", viper.GetString("bridge.host"), viper.GetInt("bridge.port"))
}

func clientFromViper(lg *slog.Logger) *bridge.Client {
	c := bridge.NewClient(baseURLFromViper())
	c.Log = lg
	return c
}

func gateFromViper(lg *slog.Logger) *gate.Gate {
	g := gate.New(clientFromViper(lg), lg)
	if v := viper.GetDuration("gate.poll_interval"); v > 0 {
		g.PollInterval = v
	}
	if v := viper.GetDuration("gate.poll_timeout"); v > 0 {
		g.PollTimeout = v
	}
	if v := viper.GetInt("gate.allow_all_minutes"); v > 0 {
		g.AllowAllDuration = time.Duration(v) * time.Minute
	}
	for _, t := range viper.GetStringSlice("gate.skip_types") {
		g.AddSkipType(t)
	}
	return g
}

func executorFromViper(lg *slog.Logger) (*executor.Executor, error) {
	dev, err := executor.NewExecDevice()
	if err != nil {
		return nil, err
	}
	artifacts, err := executor.NewArtifacts(pathutil.ExpandHomePath(viper.GetString("executor.artifact_dir")))
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	ex := executor.New(dev, artifacts, lg)
	if v := viper.GetInt("executor.failsafe_margin"); v > 0 {
		ex.FailSafeMargin = v
	}
	return ex, nil
}
