package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/daemon"
)

type daemonFlags struct {
	addr          string
	maxConcurrent int
	dev           bool
	pprofAddr     string
	enableOtel    bool
}

func (f *daemonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (default: DESKPILOT_HTTP_ADDR or "+daemon.DefaultAddr+")")
	cmd.Flags().IntVar(&f.maxConcurrent, "max-concurrent", 1, "Runs allowed to use the executor at once")
	cmd.Flags().BoolVar(&f.dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&f.enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")
}

func (f *daemonFlags) options(cmd *cobra.Command) (daemon.StartOptions, error) {
	cfg, err := loadConfig()
	if err != nil {
		return daemon.StartOptions{}, err
	}
	return daemon.StartOptions{
		Home:              config.MustHomeFrom(cmd.Context()),
		Addr:              f.addr,
		Dev:               f.dev,
		PprofAddr:         f.pprofAddr,
		EnableOtel:        f.enableOtel,
		MaxConcurrentRuns: f.maxConcurrent,
		Config:            cfg,
	}, nil
}

func newStartCmd() *cobra.Command {
	var (
		flags      daemonFlags
		foreground bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the deskpilot HTTP API daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			addr := opts.Addr
			if addr == "" {
				addr = opts.Config.HTTP.Addr
			}

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting deskpilot in foreground on http://%s\n", addr)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deskpilot started (pid %d)\n", pid)
			if st, _ := daemon.Status(cmd.Context(), opts.Home); st.Running {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: http://%s\n", st.Addr)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	return cmd
}
