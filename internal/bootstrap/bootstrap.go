// Package bootstrap assembles the run components from a config.Config. The CLI and the daemon
// both build through here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ankittk/deskpilot/internal/agent"
	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/engine"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/executor/remote"
	"github.com/ankittk/deskpilot/internal/journal"
	"github.com/ankittk/deskpilot/internal/notify"
	"github.com/ankittk/deskpilot/internal/policy"
	"github.com/ankittk/deskpilot/internal/sandbox"
	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/internal/store/postgres"
)

// Components is everything a run needs. Close releases the executor and
// the store.
type Components struct {
	Policy   *policy.Policy
	Sandbox  *sandbox.Sandbox
	Engine   engine.Engine
	Executor executor.Executor
	Store    store.Store
	Journal  *journal.Journal
	Notifier *notify.Registry

	closers []func() error
}

// Build loads the policy from home and constructs every component cfg selects.
func Build(ctx context.Context, home string, cfg *config.Config, log *slog.Logger) (*Components, error) {
	if log == nil {
		log = slog.Default()
	}
	p, err := policy.Load(policy.Path(home))
	if err != nil {
		return nil, err
	}
	c := &Components{
		Policy:   p,
		Sandbox:  sandbox.New(p, sandbox.Options{Logger: log}),
		Journal:  &journal.Journal{Path: journal.Path(home)},
		Notifier: notify.FromConfig(cfg.Notify, log),
	}
	if c.Engine, err = NewEngine(cfg.Engine); err != nil {
		return nil, err
	}
	exec, closeExec, err := NewExecutor(ctx, home, cfg.Driver, log)
	if err != nil {
		return nil, err
	}
	c.Executor = exec
	c.closers = append(c.closers, closeExec)
	if c.Store, err = OpenStore(home, cfg.Store); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.closers = append(c.closers, c.Store.Close)
	return c, nil
}

// AgentOptions returns agent options wired to these components.
func (c *Components) AgentOptions(cfg *config.Config, log *slog.Logger) agent.Options {
	return agent.Options{
		Engine:          c.Engine,
		Sandbox:         c.Sandbox,
		MaxStepsCeiling: cfg.MaxSteps,
		TimeoutCeiling:  cfg.Timeout,
		MaxOutputTokens: cfg.Engine.MaxOutputTokens,
		Logger:          log,
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// NewEngine returns the reasoning engine for cfg.Provider.
func NewEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Provider {
	case config.EngineOpenAI:
		return engine.NewOpenAI(engine.OpenAIOpts{BaseURL: cfg.URL, APIKey: cfg.APIKey, Model: cfg.Model})
	case config.EngineAnthropic:
		return engine.NewAnthropic(engine.AnthropicOpts{BaseURL: cfg.URL, APIKey: cfg.APIKey, Model: cfg.Model})
	case config.EngineScript:
		if cfg.ScriptPath == "" {
			return nil, errors.New("script engine needs DESKPILOT_SCRIPT")
		}
		return engine.LoadScript(cfg.ScriptPath)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Provider)
	}
}

func nopClose() error { return nil }

// NewExecutor returns the executor for cfg.Kind and a function that releases it.
func NewExecutor(ctx context.Context, home string, cfg config.DriverConfig, log *slog.Logger) (executor.Executor, func() error, error) {
	display, err := executor.ParseDisplay(cfg.Display)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Kind {
	case config.DriverStub, "":
		return &executor.Stub{Display: display}, nopClose, nil
	case config.DriverSubprocess:
		if cfg.Command == "" {
			return nil, nil, errors.New("subprocess driver needs DESKPILOT_DRIVER_CMD")
		}
		sub := &executor.Subprocess{
			Command: cfg.Command,
			Args:    cfg.Args,
			Timeout: cfg.Timeout,
			Display: display,
			Logger:  log,
		}
		if cfg.Sandboxed {
			work := filepath.Join(home, "scratch")
			if err := os.MkdirAll(work, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create scratch dir: %w", err)
			}
			sub.Wrap = sandbox.Wrap{Home: home, WorkDir: work}
		}
		return sub, nopClose, nil
	case config.DriverBrowser:
		b, err := executor.NewBrowser(ctx, executor.BrowserOpts{
			Headless: cfg.Headless,
			Display:  display,
			StartURL: cfg.StartURL,
			Logger:   log,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.DriverRemote:
		if cfg.Addr == "" {
			return nil, nil, errors.New("remote driver needs DESKPILOT_DRIVER_ADDR")
		}
		c, err := remote.Dial(cfg.Addr)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Kind)
	}
}

// OpenStore opens the run store cfg selects.
func OpenStore(home string, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "postgres" {
		pg, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return store.OpenWithOptions(store.OpenOptions{Driver: cfg.Driver, Home: home})
}
