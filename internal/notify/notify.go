// Package notify announces finished runs to chat and webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/pkg/models"
)

// Notifier delivers a finished run somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, run models.RunResult) error
}

// Registry fans a run out to every registered notifier.
type Registry struct {
	mu           sync.RWMutex
	notifiers    map[string]Notifier
	failuresOnly bool
	log          *slog.Logger
}

// NewRegistry returns an empty registry. With failuresOnly set, successful
// runs are not announced.
func NewRegistry(failuresOnly bool, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{notifiers: make(map[string]Notifier), failuresOnly: failuresOnly, log: log}
}

// FromConfig registers the notifiers cfg enables.
func FromConfig(cfg config.NotifyConfig, log *slog.Logger) *Registry {
	r := NewRegistry(cfg.FailuresOnly, log)
	if cfg.SlackWebhook != "" {
		r.Register(SlackWebhook{WebhookURL: cfg.SlackWebhook, Channel: cfg.SlackChannel, Username: "deskpilot"})
	}
	if cfg.Webhook != "" {
		r.Register(Webhook{URL: cfg.Webhook})
	}
	return r
}

func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// Len returns the number of registered notifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

// Notify sends run to every notifier and joins their errors. Failures are
// also logged, so callers may ignore the result.
func (r *Registry) Notify(ctx context.Context, run models.RunResult) error {
	if r == nil || (r.failuresOnly && run.Success) {
		return nil
	}
	r.mu.RLock()
	ns := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		ns = append(ns, n)
	}
	r.mu.RUnlock()

	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, run); err != nil {
			r.log.Warn("notify failed", "notifier", n.Name(), "run_id", run.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Message renders a one-line summary of run.
func Message(run models.RunResult) string {
	status := "succeeded"
	if !run.Success {
		status = "failed"
	}
	msg := fmt.Sprintf("deskpilot run %s %s (%s, %d steps, %d actions): %s",
		run.ID, status, run.StopReason, run.Steps, len(run.Actions), run.Task)
	if run.Error != "" {
		msg += "\nerror: " + run.Error
	}
	return msg
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, run models.RunResult) error {
	if s.WebhookURL == "" {
		return errors.New("slack webhook URL not set")
	}
	payload := map[string]any{"text": Message(run)}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	return postJSON(ctx, s.WebhookURL, payload)
}

// Webhook posts the run summary as JSON.
type Webhook struct {
	URL string
}

func (w Webhook) Name() string { return "webhook" }

func (w Webhook) Notify(ctx context.Context, run models.RunResult) error {
	if w.URL == "" {
		return errors.New("webhook URL not set")
	}
	return postJSON(ctx, w.URL, models.RunSummary{
		ID:          run.ID,
		Task:        run.Task,
		Success:     run.Success,
		Steps:       run.Steps,
		ActionCount: len(run.Actions),
		StopReason:  run.StopReason,
		StartedAt:   run.StartedAt,
	})
}
