package cli

import (
	"encoding/json"
	"fmt"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/daemon"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deskpilot daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "deskpilot not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deskpilot running (pid %d, addr %s)\n", st.PID, st.Addr)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
