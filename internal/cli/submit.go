package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/daemon"
	"github.com/ankittk/deskpilot/pkg/client"
	"github.com/ankittk/deskpilot/pkg/models"
)

func newSubmitCmd() *cobra.Command {
	var (
		addr       string
		maxSteps   int
		timeoutSec int
		wait       bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <task...>",
		Short: "Submit a task to the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			base, err := daemonURL(cmd, addr, cfg)
			if err != nil {
				return err
			}
			c := client.New(base, cfg.HTTP.APIKey)
			id, err := c.StartRun(cmd.Context(), models.RunRequest{
				Task:           strings.Join(args, " "),
				MaxSteps:       maxSteps,
				TimeoutSeconds: timeoutSec,
			})
			if err != nil {
				return err
			}
			if !wait {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			res, err := c.WaitRun(cmd.Context(), id, interval)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%w: %s", errRunFailed, res.StopReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from status, then DESKPILOT_HTTP_ADDR)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Maximum engine calls (0 uses the server ceiling)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Run timeout in seconds (0 uses the server ceiling)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run and print its result")
	cmd.Flags().DurationVar(&interval, "poll", 500*time.Millisecond, "Poll interval with --wait")
	return cmd
}

// daemonURL picks the daemon base URL: explicit flag, then the running
// daemon's addr file, then the configured listen address.
func daemonURL(cmd *cobra.Command, flagAddr string, cfg *config.Config) (string, error) {
	addr := flagAddr
	if addr == "" {
		home := config.MustHomeFrom(cmd.Context())
		if st, err := daemon.Status(cmd.Context(), home); err == nil && st.Running && st.Addr != "unknown" {
			addr = st.Addr
		}
	}
	addr = firstNonEmpty(addr, cfg.HTTP.Addr, daemon.DefaultAddr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr, nil
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr, nil
}
