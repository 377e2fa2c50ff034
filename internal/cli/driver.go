package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/bootstrap"
	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/executor/remote"
)

func newDriverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Serve or inspect the action executor",
	}
	cmd.AddCommand(newDriverServeCmd())
	return cmd
}

func newDriverServeCmd() *cobra.Command {
	var (
		addr       string
		driverKind string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose this host's executor over gRPC for DESKPILOT_DRIVER=remote",
		Long: "Runs the configured local driver (stub, subprocess or browser) behind a gRPC\n" +
			"server. Actions arrive already vetted by the sandbox of the calling agent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if driverKind != "" {
				cfg.Driver.Kind = driverKind
			}
			if cfg.Driver.Kind == config.DriverRemote {
				return errors.New("driver serve needs a local driver, not remote")
			}
			log := slog.Default()
			exec, closeExec, err := bootstrap.NewExecutor(cmd.Context(), home, cfg.Driver, log)
			if err != nil {
				return err
			}
			defer func() { _ = closeExec() }()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			gs := grpc.NewServer()
			(&remote.Server{Executor: exec, Limits: action.DefaultLimits(), Logger: log}).Register(gs)

			errCh := make(chan error, 1)
			go func() { errCh <- gs.Serve(lis) }()
			log.Info("driver serving", "addr", lis.Addr().String(), "driver", cfg.Driver.Kind)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Executor gRPC server listening on %s\n", lis.Addr())

			select {
			case <-cmd.Context().Done():
				gs.GracefulStop()
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&driverKind, "driver", "", "Local driver to serve: stub, subprocess or browser (env: DESKPILOT_DRIVER)")
	return cmd
}
