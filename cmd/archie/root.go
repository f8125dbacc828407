package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "archie",
		Short:         "Multi-tenant Telegram assistant: update multiplexer and proactive heartbeat",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, modeRun)
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (JSON or YAML). Empty means defaults plus environment.")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newHeartbeatCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newMuteCmd())
	cmd.AddCommand(newUnmuteCmd())
	cmd.AddCommand(newMailLoginCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return strings.TrimSpace(p)
}
