package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine providers.
const (
	EngineOpenAI    = "openai"
	EngineAnthropic = "anthropic"
	EngineScript    = "script"
)

// Driver kinds.
const (
	DriverStub       = "stub"
	DriverSubprocess = "subprocess"
	DriverBrowser    = "browser"
	DriverRemote     = "remote"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Engine   EngineConfig
	Driver   DriverConfig
	Store    StoreConfig
	HTTP     HTTPConfig
	Log      LogConfig
	Notify   NotifyConfig
	MaxSteps int // ceiling; 0 uses the agent default
	Timeout  time.Duration
}

// EngineConfig selects and configures the reasoning engine.
type EngineConfig struct {
	Provider        string
	URL             string
	Model           string
	APIKey          string
	ScriptPath      string
	MaxOutputTokens int
}

// DriverConfig selects the executor.
type DriverConfig struct {
	Kind      string
	Command   string
	Args      []string
	Addr      string
	Display   string
	Headless  bool
	StartURL  string
	Sandboxed bool // run the subprocess driver under bubblewrap
	Timeout   time.Duration
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

// HTTPConfig configures the daemon API.
type HTTPConfig struct {
	Addr   string
	APIKey string
}

// NotifyConfig selects where finished runs are announced.
type NotifyConfig struct {
	SlackWebhook string
	SlackChannel string
	Webhook      string // generic JSON webhook receiving the run summary
	FailuresOnly bool
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads .env files (default ".env", missing files ignored) and then the
// environment. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	provider := strings.ToLower(getEnv("DESKPILOT_ENGINE", EngineOpenAI))
	apiKey := getEnv("DESKPILOT_LLM_API_KEY", "")
	if apiKey == "" {
		switch provider {
		case EngineOpenAI:
			apiKey = getEnv("OPENAI_API_KEY", "")
		case EngineAnthropic:
			apiKey = getEnv("ANTHROPIC_API_KEY", "")
		}
	}
	command, args := splitCommand(getEnv("DESKPILOT_DRIVER_CMD", ""))
	driver := getEnv("DESKPILOT_DRIVER", "")
	if driver == "" {
		driver = DriverStub
		if command != "" {
			driver = DriverSubprocess
		}
	}

	cfg := &Config{
		Engine: EngineConfig{
			Provider:        provider,
			URL:             getEnv("DESKPILOT_LLM_URL", ""),
			Model:           getEnv("DESKPILOT_LLM_MODEL", defaultModel(provider)),
			APIKey:          apiKey,
			ScriptPath:      getEnv("DESKPILOT_SCRIPT", ""),
			MaxOutputTokens: getEnvInt("DESKPILOT_MAX_OUTPUT_TOKENS", 4096),
		},
		Driver: DriverConfig{
			Kind:      strings.ToLower(driver),
			Command:   command,
			Args:      args,
			Addr:      getEnv("DESKPILOT_DRIVER_ADDR", ""),
			Display:   getEnv("DESKPILOT_DISPLAY", "1280x800"),
			Headless:  getEnvBool("DESKPILOT_HEADLESS", true),
			StartURL:  getEnv("DESKPILOT_START_URL", ""),
			Sandboxed: getEnvBool("DESKPILOT_BWRAP", false),
			Timeout:   getEnvDuration("DESKPILOT_DRIVER_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("DESKPILOT_STORE", "sqlite")),
			DSN:    getEnv("DATABASE_URL", ""),
		},
		HTTP: HTTPConfig{
			Addr:   getEnv("DESKPILOT_HTTP_ADDR", "127.0.0.1:8787"),
			APIKey: getEnv("DESKPILOT_API_KEY", ""),
		},
		Log: LogConfig{
			Level:  getEnv("DESKPILOT_LOG_LEVEL", "info"),
			Format: getEnv("DESKPILOT_LOG_FORMAT", "text"),
			File:   getEnv("DESKPILOT_LOG_FILE", ""),
		},
		Notify: NotifyConfig{
			SlackWebhook: getEnv("DESKPILOT_SLACK_WEBHOOK", ""),
			SlackChannel: getEnv("DESKPILOT_SLACK_CHANNEL", ""),
			Webhook:      getEnv("DESKPILOT_NOTIFY_WEBHOOK", ""),
			FailuresOnly: getEnvBool("DESKPILOT_NOTIFY_FAILURES_ONLY", false),
		},
		MaxSteps: getEnvInt("DESKPILOT_MAX_STEPS", 0),
		Timeout:  time.Duration(getEnvInt("DESKPILOT_TIMEOUT", 0)) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles sets variables from .env files (default ".env") without
// overriding ones already in the environment. Missing files are ignored.
func LoadEnvFiles(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks option values. Engine credentials are checked when the
// engine is built, so commands that need no engine still work without them.
func (c *Config) Validate() error {
	switch c.Engine.Provider {
	case EngineOpenAI, EngineAnthropic:
	case EngineScript:
		if c.Engine.ScriptPath == "" {
			return errors.New("DESKPILOT_SCRIPT is required for the script engine")
		}
	default:
		return fmt.Errorf("DESKPILOT_ENGINE %q: want openai, anthropic or script", c.Engine.Provider)
	}
	switch c.Driver.Kind {
	case DriverStub, DriverBrowser:
	case DriverSubprocess:
		if c.Driver.Command == "" {
			return errors.New("DESKPILOT_DRIVER_CMD is required for the subprocess driver")
		}
	case DriverRemote:
		if c.Driver.Addr == "" {
			return errors.New("DESKPILOT_DRIVER_ADDR is required for the remote driver")
		}
	default:
		return fmt.Errorf("DESKPILOT_DRIVER %q: want stub, subprocess, browser or remote", c.Driver.Kind)
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("DESKPILOT_STORE %q: want sqlite or postgres", c.Store.Driver)
	}
	if c.MaxSteps < 0 {
		return errors.New("DESKPILOT_MAX_STEPS must be >= 0")
	}
	if c.Timeout < 0 {
		return errors.New("DESKPILOT_TIMEOUT must be >= 0")
	}
	if c.Engine.MaxOutputTokens <= 0 {
		return errors.New("DESKPILOT_MAX_OUTPUT_TOKENS must be > 0")
	}
	return nil
}

func defaultModel(provider string) string {
	switch provider {
	case EngineAnthropic:
		return "claude-sonnet-4-5"
	case EngineOpenAI:
		return "gpt-4o"
	}
	return ""
}

// splitCommand splits a driver command line on whitespace.
func splitCommand(s string) (string, []string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
