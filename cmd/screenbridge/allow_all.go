package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/screenbridge/internal/clifmt"
)

func newAllowAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allow-all",
		Short: "Manage the broker's blanket-approval window",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "on [minutes]",
			Short: "Approve every incoming action for a while",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				minutes := viper.GetInt("gate.allow_all_minutes")
				if len(args) == 1 {
					v, err := strconv.Atoi(strings.TrimSpace(args[0]))
					if err != nil || v <= 0 {
						return fmt.Errorf("minutes must be a positive integer, got %q", args[0])
					}
					minutes = v
				}
				client := clientFromViper(slog.Default())
				if err := client.SetAllowAll(cmd.Context(), minutes); err != nil {
					return err
				}
				fmt.Println(clifmt.Warn(fmt.Sprintf("allow-all enabled for %d minutes", minutes)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Revoke the blanket-approval window",
			RunE: func(cmd *cobra.Command, args []string) error {
				client := clientFromViper(slog.Default())
				if err := client.SetAllowAll(cmd.Context(), 0); err != nil {
					return err
				}
				fmt.Println(clifmt.Success("allow-all revoked"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the blanket-approval window state",
			RunE: func(cmd *cobra.Command, args []string) error {
				client := clientFromViper(slog.Default())
				st, err := client.GetAllowAllStatus(cmd.Context())
				if err != nil {
					return err
				}
				if !st.Active {
					fmt.Println(clifmt.Dim("allow-all inactive"))
					return nil
				}
				fmt.Println(clifmt.Warn(fmt.Sprintf("allow-all active, %ds remaining (expires %s)",
					st.TimeRemainingSeconds, st.ExpiresAt)))
				return nil
			},
		},
	)
	return cmd
}
