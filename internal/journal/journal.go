// Package journal keeps a human-readable markdown log of finished runs at
// <home>/journal.md.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ankittk/deskpilot/pkg/models"
)

// Path returns the journal file under home.
func Path(home string) string { return filepath.Join(home, "journal.md") }

// Journal appends one block per run to a markdown file.
type Journal struct {
	Path string
}

// Append adds a block for run. Creates the parent directory and the file if
// they do not exist.
func (j *Journal) Append(ctx context.Context, run models.RunResult) error {
	if err := os.MkdirAll(filepath.Dir(j.Path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(j.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(formatBlock(run)); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func formatBlock(r models.RunResult) string {
	var b strings.Builder
	b.WriteString("\n---\n\n")
	b.WriteString("## ")
	b.WriteString(r.StartedAt.Format("2006-01-02 15:04"))
	if r.Task != "" {
		b.WriteString(" - ")
		b.WriteString(oneLine(r.Task, 120))
	}
	b.WriteString("\n\n")
	if r.ID != "" {
		fmt.Fprintf(&b, "- **Run:** %s\n", r.ID)
	}
	outcome := "failed"
	if r.Success {
		outcome = "succeeded"
	}
	fmt.Fprintf(&b, "- **Outcome:** %s (%s) after %d steps, %d actions\n", outcome, r.StopReason, r.Steps, len(r.Actions))
	if r.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", oneLine(r.Error, 300))
	}
	var denied []string
	for _, a := range r.Actions {
		if a.Outcome.Violation != "" {
			denied = append(denied, a.Tool+" ("+a.Outcome.Violation+")")
		}
	}
	if len(denied) > 0 {
		fmt.Fprintf(&b, "- **Denied:** %s\n", strings.Join(denied, ", "))
	}
	if r.Summary != "" {
		fmt.Fprintf(&b, "- **Summary:** %s\n", oneLine(r.Summary, 500))
	}
	b.WriteString("\n")
	return b.String()
}

// Read returns the tail of the journal, at most limitBytes long. A limit of
// 0 returns the whole file. A missing journal reads as empty.
func (j *Journal) Read(ctx context.Context, limitBytes int) (string, error) {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	s := string(data)
	if limitBytes <= 0 || len(s) <= limitBytes {
		return s, nil
	}
	return s[len(s)-limitBytes:], nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
