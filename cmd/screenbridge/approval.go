package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/screenbridge/bridge"
	"github.com/quailyquaily/screenbridge/internal/clifmt"
)

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List screen actions waiting for a permission decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromViper(slog.Default())
			reqs, err := client.PendingPermissions(cmd.Context())
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println(clifmt.Dim("no pending permission requests"))
				return nil
			}
			fmt.Println(clifmt.Headerf("Pending permission requests (%d)", len(reqs)))
			for _, r := range reqs {
				fmt.Printf("  %s  %s\n", clifmt.Key(r.TaskID), formatPermission(r))
			}
			return nil
		},
	}
}

func formatPermission(r bridge.PermissionRequest) string {
	parts := []string{r.ActionType}
	if r.X != nil && r.Y != nil {
		parts = append(parts, fmt.Sprintf("(%d,%d)", *r.X, *r.Y))
	}
	if r.Text != "" {
		parts = append(parts, fmt.Sprintf("%q", truncate(r.Text, 40)))
	}
	if r.Description != "" {
		parts = append(parts, clifmt.Dim(truncate(r.Description, 60)))
	}
	parts = append(parts, clifmt.Dim(fmt.Sprintf("conf=%.2f age=%s", r.Confidence, time.Since(r.CreatedAt).Round(time.Second))))
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func newDecideCmd() *cobra.Command {
	var editJSON string
	cmd := &cobra.Command{
		Use:   "decide <task_id> <allow|skip|stop|edit|allow_all>",
		Short: "Submit a decision for a pending permission request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := strings.TrimSpace(args[0])
			decision := bridge.PermissionDecision(strings.ToLower(strings.TrimSpace(args[1])))
			if !decision.IsOperatorDecision() {
				return fmt.Errorf("invalid decision %q", args[1])
			}
			var edit json.RawMessage
			if strings.TrimSpace(editJSON) != "" {
				if !json.Valid([]byte(editJSON)) {
					return fmt.Errorf("--edit is not valid JSON")
				}
				edit = json.RawMessage(editJSON)
			}
			if decision == bridge.DecisionEdit && edit == nil {
				return fmt.Errorf("decision edit requires --edit")
			}
			client := clientFromViper(slog.Default())
			if err := client.SubmitDecision(cmd.Context(), taskID, decision, edit); err != nil {
				return err
			}
			fmt.Println(clifmt.Success(fmt.Sprintf("recorded %s for %s", decision, taskID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&editJSON, "edit", "", "replacement action as JSON (required with decision edit)")
	return cmd
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List pending content tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromViper(slog.Default())
			tasks, err := client.PendingTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println(clifmt.Dim("no pending content tasks"))
				return nil
			}
			fmt.Println(clifmt.Headerf("Pending content tasks (%d)", len(tasks)))
			for _, t := range tasks {
				fmt.Printf("  %s  [%s] %s  %s\n",
					clifmt.Key(t.TaskID), t.TaskType, t.ActionLabel,
					clifmt.Dim(truncate(t.ContentPreview, 70)))
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <task_id>",
		Short: "Show one content task including its decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromViper(slog.Default())
			rec, err := client.GetTask(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})
	return cmd
}

func newApproveCmd() *cobra.Command {
	var edited string
	cmd := &cobra.Command{
		Use:   "approve <task_id> <approve|cancel|edit>",
		Short: "Submit a decision for a content task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := strings.TrimSpace(args[0])
			act := bridge.TaskAction(strings.ToLower(strings.TrimSpace(args[1])))
			if !act.Valid() {
				return fmt.Errorf("invalid action %q", args[1])
			}
			if act == bridge.TaskEdit && strings.TrimSpace(edited) == "" {
				return fmt.Errorf("action edit requires --content")
			}
			client := clientFromViper(slog.Default())
			if err := client.SubmitTaskDecision(cmd.Context(), taskID, act, edited); err != nil {
				return err
			}
			fmt.Println(clifmt.Success(fmt.Sprintf("recorded %s for %s", act, taskID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&edited, "content", "", "replacement content (required with action edit)")
	return cmd
}
