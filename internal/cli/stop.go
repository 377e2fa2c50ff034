package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/daemon"
)

func newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running deskpilot daemon",
		Long: "Sends SIGTERM to the daemon. In-flight runs are cancelled at their next step " +
			"and saved before it exits; --wait blocks until the pid file is gone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			stopped, err := daemon.Stop(cmd.Context(), home)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !stopped {
				_, _ = fmt.Fprintln(out, "deskpilot is not running")
				return nil
			}
			if wait > 0 {
				deadline := time.Now().Add(wait)
				for {
					st, err := daemon.Status(cmd.Context(), home)
					if err != nil {
						return err
					}
					if !st.Running {
						break
					}
					if time.Now().After(deadline) {
						return fmt.Errorf("daemon still running after %s (pid %d)", wait, st.PID)
					}
					time.Sleep(100 * time.Millisecond)
				}
			}
			_, _ = fmt.Fprintln(out, "Stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the daemon to exit")
	return cmd
}
