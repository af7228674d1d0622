package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quailyquaily/screenbridge/internal/clifmt"
	"github.com/quailyquaily/screenbridge/internal/pathutil"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file to ~/.screenbridge/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve home dir: %w", err)
			}
			dir := filepath.Join(home, ".screenbridge")
			if _, err := pathutil.EnsureDir(dir); err != nil {
				return err
			}
			path := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := yaml.Marshal(defaultConfigScaffold())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Println(clifmt.Success("wrote " + path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func defaultConfigScaffold() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level": "info",
		},
		"bridge": map[string]any{
			"host":      "127.0.0.1",
			"port":      8808,
			"max_conns": 64,
			"permission": map[string]any{
				"decided_ttl": "30m",
				"pending_ttl": "10m",
			},
		},
		"db": map[string]any{
			"driver":      "sqlite",
			"dsn":         "",
			"automigrate": true,
		},
		"audit": map[string]any{
			"enabled":    true,
			"jsonl_path": "~/.screenbridge/approval_audit.jsonl",
		},
		"gate": map[string]any{
			"poll_interval":     "500ms",
			"poll_timeout":      "300s",
			"allow_all_minutes": 30,
			"skip_types":        []string{},
		},
		"executor": map[string]any{
			"artifact_dir":    "~/.screenbridge/screenshots",
			"failsafe_margin": 5,
		},
	}
}
