// Package policy holds the immutable security configuration consulted by the
// sandbox: network access, blocked paths, sensitive text patterns, and
// per-action rate limits.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/pkg/models"
)

// RateLimit caps occurrences of one action kind per fixed window.
type RateLimit struct {
	Max      int   `yaml:"max"`
	WindowMs int64 `yaml:"window_ms"`
}

// Window returns the window length.
func (r RateLimit) Window() time.Duration { return time.Duration(r.WindowMs) * time.Millisecond }

// Config is the on-disk policy document.
type Config struct {
	EnableInternet    bool                 `yaml:"enable_internet"`
	AllowedDomains    []string             `yaml:"allowed_domains,omitempty"`
	MaxFileSize       int64                `yaml:"max_file_size"`
	BlockedPaths      []string             `yaml:"blocked_paths,omitempty"`
	SensitivePatterns []string             `yaml:"sensitive_patterns,omitempty"`
	RateLimits        map[string]RateLimit `yaml:"rate_limits,omitempty"`
	// HomeDir is what a leading ~ expands to. Empty means the user's home.
	HomeDir string `yaml:"home_dir,omitempty"`
}

// DefaultSensitivePattern matches credential assignments such as "password=" or "api_key:".
const DefaultSensitivePattern = `(?i)(password|secret|token|api[_-]?key)\s*[=:]`

// DefaultMaxFileSize is 10 MiB.
const DefaultMaxFileSize = 10 << 20

const minute = int64(60_000)

// Default returns the built-in policy: internet off, credential stores and
// shell config blocked, per-kind quotas per minute.
func Default() Config {
	return Config{
		EnableInternet: false,
		MaxFileSize:    DefaultMaxFileSize,
		BlockedPaths: []string{
			"~/.ssh",
			"~/.aws",
			"~/.gnupg",
			"~/.kube",
			"~/.docker",
			"~/.config/gcloud",
			"~/.netrc",
			"~/.bashrc",
			"~/.bash_profile",
			"~/.zshrc",
			"~/.profile",
			"/etc/shadow",
			"/etc/sudoers",
			"/etc/sudoers.d",
			"/etc/ssh",
			"/private/etc",
		},
		SensitivePatterns: []string{DefaultSensitivePattern},
		RateLimits: map[string]RateLimit{
			string(action.KindScreenshot):  {Max: 60, WindowMs: minute},
			string(action.KindClick):       {Max: 100, WindowMs: minute},
			string(action.KindDoubleClick): {Max: 50, WindowMs: minute},
			string(action.KindType):        {Max: 50, WindowMs: minute},
			string(action.KindKey):         {Max: 100, WindowMs: minute},
			string(action.KindMouseMove):   {Max: 100, WindowMs: minute},
			string(action.KindScroll):      {Max: 100, WindowMs: minute},
			string(action.KindDrag):        {Max: 50, WindowMs: minute},
			string(action.KindOpenURL):     {Max: 20, WindowMs: minute},
			string(action.KindOpenFile):    {Max: 20, WindowMs: minute},
		},
	}
}

// Policy is a validated, compiled Config. It is not modified after New.
type Policy struct {
	cfg       Config
	sensitive []*regexp.Regexp
}

// New validates cfg and compiles its patterns. Slices and maps are copied.
func New(cfg Config) (*Policy, error) {
	c := Config{
		EnableInternet:    cfg.EnableInternet,
		MaxFileSize:       cfg.MaxFileSize,
		HomeDir:           cfg.HomeDir,
		AllowedDomains:    normalizeDomains(cfg.AllowedDomains),
		BlockedPaths:      append([]string(nil), cfg.BlockedPaths...),
		SensitivePatterns: append([]string(nil), cfg.SensitivePatterns...),
		RateLimits:        make(map[string]RateLimit, len(cfg.RateLimits)),
	}
	if c.MaxFileSize < 0 {
		return nil, fmt.Errorf("policy: max_file_size must not be negative")
	}
	if c.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("policy: home_dir: %w", err)
		}
		c.HomeDir = home
	}
	for kind, rl := range cfg.RateLimits {
		if !action.Kind(kind).Valid() {
			return nil, fmt.Errorf("policy: rate_limits: unknown action %q", kind)
		}
		if rl.Max < 0 || rl.WindowMs <= 0 {
			return nil, fmt.Errorf("policy: rate_limits.%s: max must be >= 0 and window_ms > 0", kind)
		}
		c.RateLimits[kind] = rl
	}
	p := &Policy{cfg: c}
	for _, pat := range c.SensitivePatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("policy: sensitive_patterns %q: %w", pat, err)
		}
		p.sensitive = append(p.sensitive, re)
	}
	return p, nil
}

// MustDefault returns the default policy and panics if it fails to compile.
func MustDefault() *Policy {
	p, err := New(Default())
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimSuffix(d, ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Load reads a YAML policy from path. A missing file yields the default
// policy. Fields absent from the file keep their default values.
func Load(path string) (*Policy, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(cfg)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return New(cfg)
}

// WriteDefault writes the default policy to path, creating parent directories.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Path returns <home>/policy.yaml.
func Path(home string) string { return filepath.Join(home, "policy.yaml") }

// InternetEnabled reports whether open_url may reach the network at all.
func (p *Policy) InternetEnabled() bool { return p.cfg.EnableInternet }

// AllowedDomains returns the lower-cased allow-list. Empty means any domain.
func (p *Policy) AllowedDomains() []string { return append([]string(nil), p.cfg.AllowedDomains...) }

// BlockedPaths returns the configured blocked path prefixes, unexpanded.
func (p *Policy) BlockedPaths() []string { return append([]string(nil), p.cfg.BlockedPaths...) }

// MaxFileSize is the largest file open_file may target. Zero disables the check.
func (p *Policy) MaxFileSize() int64 { return p.cfg.MaxFileSize }

// HomeDir is the expansion of a leading ~.
func (p *Policy) HomeDir() string { return p.cfg.HomeDir }

// SensitivePatterns returns the compiled sensitive text patterns.
func (p *Policy) SensitivePatterns() []*regexp.Regexp {
	return append([]*regexp.Regexp(nil), p.sensitive...)
}

// RateLimit returns the quota for kind; ok is false when kind is unthrottled.
func (p *Policy) RateLimit(kind action.Kind) (RateLimit, bool) {
	rl, ok := p.cfg.RateLimits[string(kind)]
	return rl, ok
}

// Config returns a copy of the underlying configuration.
func (p *Policy) Config() Config {
	c := p.cfg
	c.AllowedDomains = p.AllowedDomains()
	c.BlockedPaths = p.BlockedPaths()
	c.SensitivePatterns = append([]string(nil), p.cfg.SensitivePatterns...)
	c.RateLimits = make(map[string]RateLimit, len(p.cfg.RateLimits))
	for k, v := range p.cfg.RateLimits {
		c.RateLimits[k] = v
	}
	return c
}

// Model returns the API representation of the policy.
func (p *Policy) Model() models.Policy {
	m := models.Policy{
		EnableInternet:    p.cfg.EnableInternet,
		AllowedDomains:    p.AllowedDomains(),
		MaxFileSize:       p.cfg.MaxFileSize,
		BlockedPaths:      p.BlockedPaths(),
		SensitivePatterns: append([]string(nil), p.cfg.SensitivePatterns...),
		RateLimits:        make(map[string]models.RateLimit, len(p.cfg.RateLimits)),
	}
	for k, v := range p.cfg.RateLimits {
		m.RateLimits[k] = models.RateLimit{Max: v.Max, WindowMs: v.WindowMs}
	}
	return m
}

// Kinds returns the throttled kinds, sorted.
func (p *Policy) Kinds() []string {
	out := make([]string, 0, len(p.cfg.RateLimits))
	for k := range p.cfg.RateLimits {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
