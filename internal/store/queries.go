package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ankittk/deskpilot/pkg/models"
)

func (s *sqliteStore) SaveRun(ctx context.Context, run models.RunResult) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs(run_id, task, success, summary, steps, error, stop_reason, started_at, duration_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  task=excluded.task, success=excluded.success, summary=excluded.summary, steps=excluded.steps,
  error=excluded.error, stop_reason=excluded.stop_reason, started_at=excluded.started_at,
  duration_ns=excluded.duration_ns`,
		run.ID, run.Task, boolInt(run.Success), run.Summary, run.Steps, run.Error, run.StopReason,
		run.StartedAt.UnixMilli(), int64(run.Duration)); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_actions WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	for i, rec := range run.Actions {
		input, err := encodeInput(rec.Input)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_actions(run_id, seq, tool, input_json, success, is_error, content, violation, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, rec.Tool, input, boolInt(rec.Outcome.Success), boolInt(rec.Outcome.IsError),
			rec.Outcome.Content, rec.Outcome.Violation, rec.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("save action %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (models.RunResult, error) {
	var (
		run        models.RunResult
		success    int
		startedAt  int64
		durationNs int64
	)
	err := s.stmtGetRun.QueryRowContext(ctx, id).Scan(&run.ID, &run.Task, &success, &run.Summary,
		&run.Steps, &run.Error, &run.StopReason, &startedAt, &durationNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunResult{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return models.RunResult{}, err
	}
	run.Success = success != 0
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.Duration = time.Duration(durationNs)

	rows, err := s.stmtGetActions.QueryContext(ctx, id)
	if err != nil {
		return models.RunResult{}, err
	}
	defer func() { _ = rows.Close() }()
	run.Actions = []models.ActionRecord{}
	for rows.Next() {
		var (
			rec       models.ActionRecord
			input     string
			ok, isErr int
			createdAt int64
		)
		if err := rows.Scan(&rec.Tool, &input, &ok, &isErr, &rec.Outcome.Content, &rec.Outcome.Violation, &createdAt); err != nil {
			return models.RunResult{}, err
		}
		rec.Input = decodeInput(input)
		rec.Outcome.Success = ok != 0
		rec.Outcome.IsError = isErr != 0
		rec.Timestamp = time.UnixMilli(createdAt).UTC()
		run.Actions = append(run.Actions, rec)
	}
	return run, rows.Err()
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	rows, err := s.stmtListRuns.QueryContext(ctx, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.RunSummary{}
	for rows.Next() {
		var (
			r         models.RunSummary
			success   int
			startedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Task, &success, &r.Steps, &r.StopReason, &startedAt, &r.ActionCount); err != nil {
			return nil, err
		}
		r.Success = success != 0
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListViolations(ctx context.Context, limit int) ([]Violation, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, tool, input_json, content, violation, created_at
FROM run_actions
WHERE violation != ''
ORDER BY created_at DESC, run_id, seq
LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Violation{}
	for rows.Next() {
		var (
			v         Violation
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeInput marshals an action input; nil becomes {}.
func encodeInput(in map[string]any) (string, error) {
	if in == nil {
		return "{}", nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode action input: %w", err)
	}
	return string(b), nil
}

func decodeInput(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}
