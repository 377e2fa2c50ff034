package daemon

import (
	"log/slog"

	"github.com/ankittk/deskpilot/internal/config"
)

// DefaultAddr is the daemon listen address when none is configured.
const DefaultAddr = "127.0.0.1:8787"

// StartOptions configures the daemon.
type StartOptions struct {
	Home      string
	Addr      string // host:port; empty uses Config.HTTP.Addr, then DefaultAddr
	Dev       bool   // permissive CORS for a UI served from another origin
	PprofAddr string
	// EnableOtel serves OpenTelemetry metrics (Prometheus exporter) on /metrics
	// and instruments HTTP handlers.
	EnableOtel bool
	// MaxConcurrentRuns bounds runs sharing the executor; 0 means one at a time.
	MaxConcurrentRuns int
	Config            *config.Config
	Logger            *slog.Logger
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Addr    string `json:"addr,omitempty"`
}
