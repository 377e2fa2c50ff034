package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/agent"
	"github.com/ankittk/deskpilot/internal/bootstrap"
	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/pkg/models"
)

// errRunFailed is returned after the result was printed, so main exits
// non-zero without repeating it.
var errRunFailed = errors.New("run did not succeed")

func newRunCmd() *cobra.Command {
	var (
		maxSteps   int
		timeoutSec int
		engineKind string
		driverKind string
		scriptPath string
		noSave     bool
		events     bool
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task and print the RunResult as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if engineKind != "" {
				cfg.Engine.Provider = engineKind
			}
			if scriptPath != "" {
				cfg.Engine.ScriptPath = scriptPath
				if engineKind == "" {
					cfg.Engine.Provider = config.EngineScript
				}
			}
			if driverKind != "" {
				cfg.Driver.Kind = driverKind
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := slog.Default()
			comps, err := bootstrap.Build(cmd.Context(), home, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = comps.Close() }()

			opts := comps.AgentOptions(cfg, log)
			if events {
				var mu sync.Mutex
				enc := json.NewEncoder(cmd.ErrOrStderr())
				opts.OnEvent = func(ev models.RunEvent) {
					mu.Lock()
					defer mu.Unlock()
					_ = enc.Encode(ev)
				}
			}
			ag, err := agent.New(opts)
			if err != nil {
				return err
			}
			res := ag.Execute(cmd.Context(), agent.Task{
				Goal:        strings.Join(args, " "),
				Constraints: agent.Constraints{MaxSteps: maxSteps, TimeoutSeconds: timeoutSec},
			}, comps.Executor)

			if !noSave {
				if err := comps.Store.SaveRun(cmd.Context(), res); err != nil {
					log.Warn("save run failed", "run_id", res.ID, "error", err)
				}
				if err := comps.Journal.Append(cmd.Context(), res); err != nil {
					log.Warn("journal append failed", "run_id", res.ID, "error", err)
				}
			}
			_ = comps.Notifier.Notify(cmd.Context(), res)

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
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step limit for this run (clamped to DESKPILOT_MAX_STEPS)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Timeout in seconds for this run (clamped to DESKPILOT_TIMEOUT)")
	cmd.Flags().StringVar(&engineKind, "engine", "", "Engine: openai, anthropic or script (env: DESKPILOT_ENGINE)")
	cmd.Flags().StringVar(&driverKind, "driver", "", "Driver: stub, subprocess, browser or remote (env: DESKPILOT_DRIVER)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "JSON file of scripted engine responses; implies --engine script")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record the run in the store and journal")
	cmd.Flags().BoolVar(&events, "events", false, "Stream run events as JSON lines on stderr")
	return cmd
}
