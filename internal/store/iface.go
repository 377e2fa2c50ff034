// Package store persists run results. The SQLite implementation lives in
// this package; PostgreSQL is in store/postgres.
package store

import (
	"context"
	"errors"

	"github.com/ankittk/deskpilot/pkg/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for run results and their action logs.
// Implementations: SQLite (Open) and *postgres.Store (PostgreSQL).
type Store interface {
	// SaveRun inserts or replaces a run and its action records.
	SaveRun(ctx context.Context, run models.RunResult) error
	// GetRun returns the full run including actions, or ErrNotFound.
	GetRun(ctx context.Context, id string) (models.RunResult, error)
	// ListRuns returns the most recent runs first. limit <= 0 uses DefaultRunListLimit.
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	// ListViolations returns denied actions across runs, newest first.
	ListViolations(ctx context.Context, limit int) ([]Violation, error)
	Close() error
}

// Violation is one denied action with the run it belongs to.
type Violation = models.Violation

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultRunListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
