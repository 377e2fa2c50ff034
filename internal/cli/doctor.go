package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/policy"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration, policy and driver dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			problems := diagnose(home)
			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}

func diagnose(home string) []string {
	var problems []string
	if err := config.EnsureHome(home); err != nil {
		problems = append(problems, fmt.Sprintf("home %s is not writable: %v", home, err))
	}
	if _, err := policy.Load(policy.Path(home)); err != nil {
		problems = append(problems, fmt.Sprintf("policy: %v", err))
	}
	cfg, err := config.Load()
	if err != nil {
		return append(problems, err.Error())
	}
	switch cfg.Engine.Provider {
	case config.EngineOpenAI, config.EngineAnthropic:
		if cfg.Engine.APIKey == "" && cfg.Engine.URL == "" {
			problems = append(problems, fmt.Sprintf("engine %s: no API key (set DESKPILOT_LLM_API_KEY)", cfg.Engine.Provider))
		}
	case config.EngineScript:
		if _, err := os.Stat(cfg.Engine.ScriptPath); err != nil {
			problems = append(problems, fmt.Sprintf("script engine: %v", err))
		}
	}
	switch cfg.Driver.Kind {
	case config.DriverSubprocess:
		if _, err := exec.LookPath(cfg.Driver.Command); err != nil {
			problems = append(problems, fmt.Sprintf("driver command %q not found on PATH", cfg.Driver.Command))
		}
		if cfg.Driver.Sandboxed && runtime.GOOS == "linux" {
			if _, err := exec.LookPath("bwrap"); err != nil {
				problems = append(problems, "DESKPILOT_BWRAP is set but bwrap is not on PATH")
			}
		}
	}
	return problems
}
