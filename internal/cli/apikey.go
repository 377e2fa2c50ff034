package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
)

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the key guarding the daemon API and run submission",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

func newApikeyGenerateCmd() *cobra.Command {
	var envFile string
	var save bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key for `deskpilot start` and `deskpilot submit`",
		Long: `Generate a random API key.

With --save the key is appended to <home>/.env, which every deskpilot command
loads, so the daemon requires it and submit sends it without further setup.
Use --env to append to another file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if save && envFile != "" {
				return fmt.Errorf("--save and --env are mutually exclusive")
			}
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(b)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated API key (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)

			if save {
				home := config.MustHomeFrom(cmd.Context())
				if err := config.EnsureHome(home); err != nil {
					return err
				}
				envFile = config.EnvFile(home)
			}
			if envFile == "" {
				_, _ = fmt.Fprintln(out, "Use it:")
				_, _ = fmt.Fprintln(out, "  1. On the daemon host: export DESKPILOT_API_KEY="+key)
				_, _ = fmt.Fprintln(out, "     or rerun with --save to keep it in the deskpilot home")
				_, _ = fmt.Fprintln(out, "  2. Clients send header X-API-Key: <key> (deskpilot submit reads DESKPILOT_API_KEY)")
				_, _ = fmt.Fprintln(out)
				return nil
			}
			if err := appendEnv(envFile, "DESKPILOT_API_KEY", key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Appended DESKPILOT_API_KEY to %s\n", envFile)
			if save {
				_, _ = fmt.Fprintln(out, "Restart the daemon to pick it up: deskpilot stop && deskpilot start")
			} else {
				_, _ = fmt.Fprintln(out, "Start the daemon with: deskpilot start --env-file "+envFile)
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Append DESKPILOT_API_KEY to the env file in the deskpilot home")
	cmd.Flags().StringVar(&envFile, "env", "", "Append DESKPILOT_API_KEY to this file (e.g. .env)")
	return cmd
}

// appendEnv adds KEY=value to an env file, creating it owner-only.
func appendEnv(path, key, value string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := io.WriteString(f, key+"="+value+"\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
