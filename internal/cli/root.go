package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/logging"
)

type logCloserKey struct{}

func NewRootCmd(version string) *cobra.Command {
	var (
		homeOverride string
		envFile      string
		logLevel     string
		logFormat    string
		logFile      string
	)

	cmd := &cobra.Command{
		Use:          "deskpilot",
		Short:        "deskpilot: sandboxed desktop automation driven by a reasoning engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			if err := config.LoadEnvFiles(files...); err != nil {
				return err
			}
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			// Keys saved by `apikey generate --save` live next to the run database.
			if err := config.LoadEnvFiles(config.EnvFile(home)); err != nil {
				return err
			}
			logger, closeLog, err := logging.New(logging.Options{
				Level:  firstNonEmpty(logLevel, os.Getenv("DESKPILOT_LOG_LEVEL")),
				Format: firstNonEmpty(logFormat, os.Getenv("DESKPILOT_LOG_FORMAT")),
				File:   firstNonEmpty(logFile, os.Getenv("DESKPILOT_LOG_FILE")),
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			ctx := config.WithHome(cmd.Context(), home)
			ctx = context.WithValue(ctx, logCloserKey{}, closeLog)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog, ok := cmd.Context().Value(logCloserKey{}).(func() error); ok && closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override deskpilot home directory (default: ~/.deskpilot, env: DESKPILOT_HOME)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load env vars from this file (default: .env if present)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: DESKPILOT_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (env: DESKPILOT_LOG_FORMAT)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (env: DESKPILOT_LOG_FILE)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newDriverCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newApikeyCmd())

	// Hidden internal subcommand used by `deskpilot start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}

// loadConfig reads the environment configuration. Files named by --env-file
// were already applied by the root command.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
