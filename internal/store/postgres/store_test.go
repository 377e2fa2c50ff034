package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/pkg/models"
)

func TestOpen_requiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Open(""); err == nil {
		t.Fatal("expected error without DSN")
	}
}

func TestRoundTrip_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	id := uuid.NewString()
	run := models.RunResult{
		ID: id, Task: "pg round trip", Success: true, Steps: 1, StopReason: models.StopCompleted,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Actions: []models.ActionRecord{{
			Tool: "open_url", Input: map[string]any{"url": "http://10.0.0.1/"},
			Outcome:   models.Outcome{IsError: true, Violation: "private_address"},
			Timestamp: time.Now().UTC(),
		}},
	}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Task != run.Task || len(got.Actions) != 1 || got.Actions[0].Outcome.Violation != "private_address" {
		t.Errorf("GetRun: %+v", got)
	}
	if _, err := st.GetRun(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	runs, err := st.ListRuns(ctx, 10)
	if err != nil || len(runs) == 0 {
		t.Fatalf("ListRuns: %v (%d)", err, len(runs))
	}
}
