// Package models provides shared types for the deskpilot HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Outcome is what happened to one requested action.
type Outcome struct {
	Success bool   `json:"success"`
	IsError bool   `json:"is_error,omitempty"`
	Content string `json:"content,omitempty"`
	// Violation names the sandbox rule that denied the action, if any.
	Violation string `json:"violation,omitempty"`
}

// ActionRecord is one audit entry in a run. Input has sensitive keys redacted.
type ActionRecord struct {
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunResult is produced exactly once per run, at loop exit.
type RunResult struct {
	ID         string         `json:"id,omitempty"`
	Task       string         `json:"task,omitempty"`
	Success    bool           `json:"success"`
	Summary    string         `json:"summary,omitempty"`
	Steps      int            `json:"steps"`
	Actions    []ActionRecord `json:"actions"`
	Error      string         `json:"error,omitempty"`
	StopReason string         `json:"stop_reason"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
}

// Violation is one denied action with the run it belongs to.
type Violation struct {
	RunID  string       `json:"run_id"`
	Record ActionRecord `json:"record"`
}

// RunSummary is a RunResult without its action log, used by list endpoints.
type RunSummary struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Success     bool      `json:"success"`
	Steps       int       `json:"steps"`
	ActionCount int       `json:"action_count"`
	StopReason  string    `json:"stop_reason"`
	StartedAt   time.Time `json:"started_at"`
}

// RunEvent is streamed while a run is in progress.
type RunEvent struct {
	RunID  string        `json:"run_id"`
	Type   string        `json:"type"`
	Step   int           `json:"step,omitempty"`
	Action *ActionRecord `json:"action,omitempty"`
	Result *RunResult    `json:"result,omitempty"`
	Time   time.Time     `json:"time"`
}

// RunRequest is the POST /runs body.
type RunRequest struct {
	Task           string `json:"task"`
	MaxSteps       int    `json:"max_steps,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// RunAccepted is the POST /runs response.
type RunAccepted struct {
	ID string `json:"id"`
}

// Policy is the /policy API response.
type Policy struct {
	EnableInternet    bool                 `json:"enable_internet"`
	AllowedDomains    []string             `json:"allowed_domains"`
	MaxFileSize       int64                `json:"max_file_size"`
	BlockedPaths      []string             `json:"blocked_paths"`
	SensitivePatterns []string             `json:"sensitive_patterns"`
	RateLimits        map[string]RateLimit `json:"rate_limits"`
}

// RateLimit is a per-kind quota.
type RateLimit struct {
	Max      int   `json:"max"`
	WindowMs int64 `json:"window_ms"`
}
