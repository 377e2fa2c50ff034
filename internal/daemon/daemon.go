// Package daemon runs the HTTP API as a long-lived background process with
// pid, addr and lock files under <home>/run.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/deskpilot/internal/bootstrap"
	"github.com/ankittk/deskpilot/internal/httpapi"
	"github.com/ankittk/deskpilot/internal/otel"
	"github.com/ankittk/deskpilot/internal/store"
)

var errNotRunning = errors.New("deskpilot is not running")

// StartForeground serves the API until ctx is done. In-flight runs are
// cancelled and persisted before it returns.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Config == nil {
		return errors.New("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	addr := opts.Addr
	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	if addr == "" {
		addr = DefaultAddr
	}

	// Ensure dirs exist.
	if err := os.MkdirAll(runDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(ctx, opts.PprofAddr, log)

	// Ensure DB schema exists before serving (SQLite only; Postgres migrates on connect).
	if cfg.Store.Driver != "postgres" {
		if err := store.EnsureSchema(opts.Home); err != nil {
			return err
		}
	}

	// Listen first so the addr file records the real port.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	comps, err := bootstrap.Build(ctx, opts.Home, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = comps.Close() }()

	srvOpts := httpapi.ServerOptions{
		Addr:              ln.Addr().String(),
		Dev:               opts.Dev,
		APIKey:            cfg.HTTP.APIKey,
		Agent:             comps.AgentOptions(cfg, log),
		Executor:          comps.Executor,
		MaxConcurrentRuns: opts.MaxConcurrentRuns,
		Store:             comps.Store,
		Journal:           comps.Journal,
		Notifier:          comps.Notifier,
		Logger:            log,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "deskpilot",
			otel.AttrEngine.String(cfg.Engine.Provider),
			otel.AttrDriver.String(cfg.Driver.Kind),
		)
		if err != nil {
			log.Warn("otel init failed, serving without /metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(srvOpts.Addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	log.Info("daemon starting", "addr", srvOpts.Addr, "home", opts.Home,
		"engine", cfg.Engine.Provider, "driver", cfg.Driver.Kind)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "err", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StartBackground re-executes the current binary as "deskpilot daemon" in
// a new session and returns its PID. The child inherits the environment,
// so configuration is read again from the same variables.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(runDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, st.PID)
	}

	stderr, err := os.OpenFile(logPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	cmd := exec.Command(exe, backgroundArgs(opts)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func backgroundArgs(opts StartOptions) []string {
	args := []string{"daemon", "--home", opts.Home}
	if opts.Addr != "" {
		args = append(args, "--addr", opts.Addr)
	}
	if opts.MaxConcurrentRuns > 0 {
		args = append(args, "--max-concurrent", strconv.Itoa(opts.MaxConcurrentRuns))
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.EnableOtel {
		args = append(args, "--otel")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	return args
}

// Stop sends SIGTERM to the running daemon and waits up to 15s for it to
// exit before killing it. It reports whether a daemon was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and checks that the process is alive. A stale
// pid file is removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}
