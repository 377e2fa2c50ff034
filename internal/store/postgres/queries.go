package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/pkg/models"
)

// SaveRun inserts or replaces a run and its actions in one transaction.
func (s *Store) SaveRun(ctx context.Context, run models.RunResult) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO runs(run_id, task, success, summary, steps, error, stop_reason, started_at, duration_ns)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO UPDATE SET
  task=EXCLUDED.task, success=EXCLUDED.success, summary=EXCLUDED.summary, steps=EXCLUDED.steps,
  error=EXCLUDED.error, stop_reason=EXCLUDED.stop_reason, started_at=EXCLUDED.started_at,
  duration_ns=EXCLUDED.duration_ns`,
		run.ID, run.Task, run.Success, run.Summary, run.Steps, run.Error, run.StopReason,
		run.StartedAt.UnixMilli(), int64(run.Duration)); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM run_actions WHERE run_id = $1`, run.ID); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	batch := &pgx.Batch{}
	for i, rec := range run.Actions {
		input := []byte("{}")
		if rec.Input != nil {
			if input, err = json.Marshal(rec.Input); err != nil {
				return fmt.Errorf("encode action input: %w", err)
			}
		}
		batch.Queue(`
INSERT INTO run_actions(run_id, seq, tool, input_json, success, is_error, content, violation, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.ID, i, rec.Tool, string(input), rec.Outcome.Success, rec.Outcome.IsError,
			rec.Outcome.Content, rec.Outcome.Violation, rec.Timestamp.UnixMilli())
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save actions: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetRun returns a run with its actions, or store.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (models.RunResult, error) {
	var (
		run        models.RunResult
		startedAt  int64
		durationNs int64
	)
	err := s.Pool.QueryRow(ctx, `
SELECT run_id, task, success, summary, steps, error, stop_reason, started_at, duration_ns
FROM runs WHERE run_id = $1`, id).Scan(&run.ID, &run.Task, &run.Success, &run.Summary,
		&run.Steps, &run.Error, &run.StopReason, &startedAt, &durationNs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RunResult{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		return models.RunResult{}, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.Duration = time.Duration(durationNs)

	rows, err := s.Pool.Query(ctx, `
SELECT tool, input_json::text, success, is_error, content, violation, created_at
FROM run_actions WHERE run_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return models.RunResult{}, err
	}
	defer rows.Close()
	run.Actions = []models.ActionRecord{}
	for rows.Next() {
		var (
			rec       models.ActionRecord
			input     string
			createdAt int64
		)
		if err := rows.Scan(&rec.Tool, &input, &rec.Outcome.Success, &rec.Outcome.IsError,
			&rec.Outcome.Content, &rec.Outcome.Violation, &createdAt); err != nil {
			return models.RunResult{}, err
		}
		rec.Input = decodeInput(input)
		rec.Timestamp = time.UnixMilli(createdAt).UTC()
		run.Actions = append(run.Actions, rec)
	}
	return run, rows.Err()
}

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT r.run_id, r.task, r.success, r.steps, r.stop_reason, r.started_at,
  (SELECT COUNT(*) FROM run_actions a WHERE a.run_id = r.run_id)
FROM runs r ORDER BY r.started_at DESC, r.run_id DESC LIMIT $1`, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.RunSummary{}
	for rows.Next() {
		var (
			r         models.RunSummary
			startedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.Success, &r.Steps, &r.StopReason, &startedAt, &r.ActionCount); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListViolations returns denied actions, newest first.
func (s *Store) ListViolations(ctx context.Context, limit int) ([]store.Violation, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT run_id, tool, input_json::text, content, violation, created_at
FROM run_actions WHERE violation <> ''
ORDER BY created_at DESC, run_id, seq LIMIT $1`, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []store.Violation{}
	for rows.Next() {
		var (
			v         store.Violation
			input     string
			createdAt int64
		)
		if err := rows.Scan(&v.RunID, &v.Record.Tool, &input, &v.Record.Outcome.Content, &v.Record.Outcome.Violation, &createdAt); err != nil {
			return nil, err
		}
		v.Record.Input = decodeInput(input)
		v.Record.Outcome.IsError = true
		v.Record.Timestamp = time.UnixMilli(createdAt).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

func decodeInput(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}
