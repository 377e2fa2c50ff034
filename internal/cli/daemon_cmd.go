package cli

import (
	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var flags daemonFlags

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			return daemon.StartForeground(cmd.Context(), opts)
		},
	}

	flags.register(cmd)
	return cmd
}
