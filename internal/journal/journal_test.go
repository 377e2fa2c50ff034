package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/deskpilot/pkg/models"
)

func TestJournal_AppendAndRead(t *testing.T) {
	j := &Journal{Path: Path(filepath.Join(t.TempDir(), "nested", "home"))}
	ctx := context.Background()
	ts, _ := time.Parse(time.RFC3339, "2025-01-15T10:00:00Z")

	err := j.Append(ctx, models.RunResult{
		ID:         "r1",
		Task:       "Open the\nsettings panel",
		StopReason: models.StopCompleted,
		Success:    true,
		Steps:      3,
		StartedAt:  ts,
		Summary:    "Task complete",
		Actions: []models.ActionRecord{
			{Tool: "click"},
			{Tool: "open_url", Outcome: models.Outcome{Violation: "private_address"}},
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, models.RunResult{ID: "r2", Task: "second", StopReason: models.StopEngineError, Error: "engine: 500", StartedAt: ts}); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	content, err := j.Read(ctx, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, want := range []string{
		"## 2025-01-15 10:00 - Open the settings panel",
		"succeeded (completed) after 3 steps, 2 actions",
		"**Denied:** open_url (private_address)",
		"failed (engine_error)",
		"**Error:** engine: 500",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("journal missing %q:\n%s", want, content)
		}
	}

	tail, err := j.Read(ctx, 40)
	if err != nil || len(tail) != 40 {
		t.Errorf("Read tail: %q, %v", tail, err)
	}
}

func TestJournal_ReadMissing(t *testing.T) {
	j := &Journal{Path: filepath.Join(t.TempDir(), "none.md")}
	s, err := j.Read(context.Background(), 0)
	if err != nil || s != "" {
		t.Errorf("Read missing: %q, %v", s, err)
	}
}
