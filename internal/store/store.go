package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore is the SQLite implementation of Store (internal to this package).
type sqliteStore struct {
	DB *sql.DB
	// Prepared statements for hot paths (prepared at open, closed in Close).
	stmtGetRun     *sql.Stmt
	stmtListRuns   *sql.Stmt
	stmtGetActions *sql.Stmt
}

// OpenOptions configures how to open the store (driver and location).
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Home   string // for sqlite: directory containing protected/db.sqlite
	DSN    string // for sqlite: explicit file path or file: DSN
}

// Open opens the default SQLite store at home/protected/db.sqlite.
func Open(home string) (Store, error) {
	return OpenWithOptions(OpenOptions{Driver: "sqlite", Home: home})
}

// OpenWithOptions opens a SQLite store from Home or DSN. For driver
// "postgres", callers use postgres.Open from internal/store/postgres.
func OpenWithOptions(opts OpenOptions) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
	case "postgres":
		return nil, errors.New("for postgres use postgres.Open(dsn) from github.com/ankittk/deskpilot/internal/store/postgres")
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if opts.Home == "" && opts.DSN != "" {
		return openSQLiteDSN(opts.DSN)
	}
	if opts.Home == "" {
		return nil, errors.New("sqlite home or DSN required")
	}
	dbPath := filepath.Join(opts.Home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return openSQLiteDSN(dbPath)
}

func openSQLiteDSN(dsn string) (*sqliteStore, error) {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	s := &sqliteStore{DB: db}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&s.stmtGetRun, `SELECT run_id, task, success, summary, steps, error, stop_reason, started_at, duration_ns FROM runs WHERE run_id = ?`},
		{&s.stmtListRuns, `SELECT r.run_id, r.task, r.success, r.steps, r.stop_reason, r.started_at, (SELECT COUNT(*) FROM run_actions a WHERE a.run_id = r.run_id) FROM runs r ORDER BY r.started_at DESC, r.run_id DESC LIMIT ?`},
		{&s.stmtGetActions, `SELECT tool, input_json, success, is_error, content, violation, created_at FROM run_actions WHERE run_id = ? ORDER BY seq ASC`},
	}
	for _, p := range pairs {
		st, err := s.DB.PrepareContext(ctx, p.q)
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

// EnsureSchema creates the store at home, runs migrations, and closes it; used to bootstrap the DB.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{s.stmtGetRun, s.stmtListRuns, s.stmtGetActions} {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.DB.Close()
}

func (s *sqliteStore) initPragmas(ctx context.Context) error {
	// WAL lets the HTTP API read runs while a run is being saved.
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
		// Negative cache_size means KB.
		"PRAGMA cache_size=-20000;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}

	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })

	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}

	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *sqliteStore) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 1 {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}
