package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/screenbridge/action"
	"github.com/quailyquaily/screenbridge/bridge"
	"github.com/quailyquaily/screenbridge/executor"
	"github.com/quailyquaily/screenbridge/internal/clifmt"
)

func newExecCmd() *cobra.Command {
	var (
		taskID string
		noGate bool
	)
	cmd := &cobra.Command{
		Use:   "exec <proposal-json|->",
		Short: "Run one proposed screen action through the gate and the executor",
		Long: `exec parses a proposed action, asks the broker for permission, and if
allowed performs it on the local display. Pass "-" to read the proposal
from stdin. The gate fails closed: no broker, no action.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if raw == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = string(data)
			}
			return runExec(cmd, raw, taskID, noGate)
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "reuse a permission task id instead of registering a new one")
	cmd.Flags().BoolVar(&noGate, "no-gate", false, "skip the permission gate entirely")
	return cmd
}

func runExec(cmd *cobra.Command, raw, taskID string, noGate bool) error {
	lg := slog.Default()

	proposal, err := action.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse proposal: %w", err)
	}
	if err := proposal.Validate(); err != nil {
		return fmt.Errorf("invalid proposal: %w", err)
	}

	if !noGate {
		g := gateFromViper(lg)
		res := g.Request(cmd.Context(), proposal, strings.TrimSpace(taskID))
		switch res.Decision {
		case bridge.DecisionAllow:
		case bridge.DecisionSkip:
			fmt.Println(clifmt.Warn("action skipped by operator"))
			return nil
		case bridge.DecisionEdit:
			edited, err := action.Parse(string(res.EditData))
			if err != nil {
				return fmt.Errorf("parse edited proposal: %w", err)
			}
			if err := edited.Validate(); err != nil {
				return fmt.Errorf("invalid edited proposal: %w", err)
			}
			fmt.Println(clifmt.Warn("running operator-edited action"))
			proposal = edited
		default:
			fmt.Println(clifmt.Fail("action stopped"))
			return fmt.Errorf("permission denied")
		}
	}

	ex, err := executorFromViper(lg)
	if err != nil {
		return err
	}
	result, err := ex.Apply(cmd.Context(), proposal)
	if err != nil {
		if errors.Is(err, executor.ErrFailSafe) {
			fmt.Println(clifmt.Fail("fail-safe abort: pointer parked in a screen corner"))
		}
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
