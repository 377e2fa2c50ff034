// Package sandbox is the policy gate every requested action passes through
// before it reaches an executor. It is a best-effort filter around a single
// sequential actor, not a kernel-level isolation boundary.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/clock"
	"github.com/ankittk/deskpilot/internal/otel"
	"github.com/ankittk/deskpilot/internal/policy"
)

// Options configures a Sandbox. Zero values select production defaults.
type Options struct {
	// Ledger is shared by all runs that should be rate limited together.
	Ledger   *Ledger
	Resolver Resolver
	Stat     StatFunc
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Sandbox validates actions against an immutable policy.
type Sandbox struct {
	policy   *policy.Policy
	ledger   *Ledger
	resolver Resolver
	stat     StatFunc
	clock    clock.Clock
	log      *slog.Logger
	paths    *PathGuard
}

// New returns a sandbox enforcing p.
func New(p *policy.Policy, opts Options) *Sandbox {
	s := &Sandbox{
		policy:   p,
		ledger:   opts.Ledger,
		resolver: opts.Resolver,
		stat:     opts.Stat,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.ledger == nil {
		s.ledger = NewLedger(s.clock)
	}
	if s.resolver == nil {
		s.resolver = net.DefaultResolver
	}
	if s.stat == nil {
		s.stat = os.Stat
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.paths = &PathGuard{HomeDir: p.HomeDir(), Blocked: p.BlockedPaths()}
	return s
}

// Policy returns the enforced policy.
func (s *Sandbox) Policy() *policy.Policy { return s.policy }

// Ledger returns the rate-limit ledger.
func (s *Sandbox) Ledger() *Ledger { return s.ledger }

// ValidateAction checks the rate limit for a's kind and then the checks
// specific to that kind. It returns nil or a *Violation. Every call is
// logged with redacted parameters.
func (s *Sandbox) ValidateAction(ctx context.Context, a action.Action) error {
	kind := a.Kind()
	v := s.check(ctx, a)
	attrs := []any{
		"action", string(kind),
		"params", Redact(a.Params()),
		"at", s.clock.Now(),
	}
	if v != nil {
		v.Kind = kind
		otel.RecordViolation(ctx, string(v.Rule), string(kind))
		s.log.WarnContext(ctx, "action denied", append(attrs, "rule", string(v.Rule), "reason", v.Reason)...)
		return v
	}
	s.log.InfoContext(ctx, "action allowed", attrs...)
	return nil
}

func (s *Sandbox) check(ctx context.Context, a action.Action) *Violation {
	if rl, ok := s.policy.RateLimit(a.Kind()); ok {
		if used, allowed := s.ledger.Take(a.Kind(), rl); !allowed {
			return deny(RuleRateLimit, "%d of %d allowed per %s already used", used, rl.Max, rl.Window())
		}
	}
	switch v := a.(type) {
	case action.Type:
		if err := ScreenText(v.Text, s.policy.SensitivePatterns()); err != nil {
			return asViolation(err)
		}
	case action.OpenURL:
		return s.checkURL(ctx, v.URL)
	case action.OpenFile:
		return s.checkFile(v.Path)
	}
	return nil
}

// ScreenInstruction screens a task before a run starts.
func (s *Sandbox) ScreenInstruction(ctx context.Context, task string) error {
	if err := ScreenInstruction(task); err != nil {
		v := asViolation(err)
		otel.RecordViolation(ctx, string(v.Rule), "")
		s.log.WarnContext(ctx, "task rejected", "rule", string(v.Rule), "reason", v.Reason)
		return v
	}
	return nil
}

// ValidateURL runs the network checks alone, without consuming the rate limit.
func (s *Sandbox) ValidateURL(ctx context.Context, raw string) error {
	if v := s.checkURL(ctx, raw); v != nil {
		v.Kind = action.KindOpenURL
		return v
	}
	return nil
}

// ValidatePath runs the path checks alone.
func (s *Sandbox) ValidatePath(raw string) error {
	return s.paths.Check(raw)
}

// ValidateText runs the text screening alone.
func (s *Sandbox) ValidateText(text string) error {
	return ScreenText(text, s.policy.SensitivePatterns())
}

func (s *Sandbox) checkFile(raw string) *Violation {
	if err := s.paths.Check(raw); err != nil {
		return asViolation(err)
	}
	limit := s.policy.MaxFileSize()
	if limit <= 0 {
		return nil
	}
	info, err := s.stat(s.paths.Expand(raw))
	if err != nil {
		// A missing file is left for the executor to report.
		return nil
	}
	if !info.IsDir() && info.Size() > limit {
		return deny(RuleFileSize, "file is %d bytes, limit is %d", info.Size(), limit)
	}
	return nil
}

func asViolation(err error) *Violation {
	var v *Violation
	if errors.As(err, &v) {
		return v
	}
	return &Violation{Rule: RuleBlockedPath, Reason: err.Error()}
}

// Wrap describes how to confine a driver process.
type Wrap struct {
	// Home is bound read-only. Empty disables wrapping.
	Home string
	// WorkDir is bound read-write; typically a scratch directory for screenshots.
	WorkDir string
}

// WrapCommand returns an *exec.Cmd that runs binary with args. If w.Home is
// non-empty and bubblewrap (bwrap) is available on Linux, the command runs
// inside a minimal bubblewrap sandbox with the home read-only and only
// WorkDir and /tmp writable. Otherwise the command runs unwrapped.
func WrapCommand(ctx context.Context, w Wrap, binary string, args []string) *exec.Cmd {
	if w.Home == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrapArgs, err := bwrapArgs(w)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrapArgs = append(bwrapArgs, "--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}

func bwrapArgs(w Wrap) ([]string, error) {
	absHome, err := filepath.Abs(w.Home)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--ro-bind", absHome, absHome,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--ro-bind-try", "/tmp/.X11-unix", "/tmp/.X11-unix",
		"--unshare-pid",
	}
	if w.WorkDir != "" {
		absWork, err := filepath.Abs(w.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("workdir: %w", err)
		}
		args = append(args, "--bind", absWork, absWork)
	}
	return args, nil
}
