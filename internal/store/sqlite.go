// ABOUTME: SQLite backend mapping AgentState onto relational tables
// ABOUTME: Writes run in one immediate transaction; the database runs in WAL mode

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/agentstate/internal/state"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// schemaVersion is the relational layout version recorded in the meta table.
const schemaVersion = 1

// SQLiteStorage persists state in SQLite tables.
type SQLiteStorage struct {
	guard
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (creating if needed) the database at path.
// The schema is created automatically and parent directories are created if needed.
func NewSQLiteStorage(path string, opts ...Option) (*SQLiteStorage, error) {
	o := buildOptions(opts)
	db, err := openDB(path, o)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db, path: path}
	s.guard.init("sqlite", s, o.logger.With("path", path))
	s.logger.Info("SQLite storage initialized", "driver", o.driver)
	return s, nil
}

// openDB opens the database with the pragmas every SQLite backend relies on and
// brings the schema up to date.
func openDB(path string, o options) (*sql.DB, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ioError("creating database directory", err)
		}
	}

	dsn, err := sqliteDSN(path, o.driver, o.busyTimeout)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, ioError("opening database", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, openError(path, "opening database", err)
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, openError(path, "creating schema", err)
	}
	return db, nil
}

// sqliteDSN builds a driver-specific DSN. Both drivers get WAL, a busy timeout,
// foreign keys and immediate write transactions.
func sqliteDSN(path, driver string, busy time.Duration) (string, error) {
	ms := busy.Milliseconds()
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate", path, ms), nil
	case DriverCGO:
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate", path, ms), nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q", driver)
	}
}

func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS plan (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			goal       TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('active', 'completed', 'cancelled'))
		);

		CREATE TABLE IF NOT EXISTS phases (
			plan_id       INTEGER NOT NULL REFERENCES plan(id) ON DELETE CASCADE,
			position      INTEGER NOT NULL,
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			started_at    TEXT,
			completed_at  TEXT,
			error_message TEXT NOT NULL DEFAULT '',

			PRIMARY KEY (plan_id, name),
			CHECK (status IN ('pending', 'in_progress', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_phases_position ON phases(plan_id, position);

		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			content    TEXT NOT NULL,
			section    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_section ON notes(section);

		CREATE TABLE IF NOT EXISTS decisions (
			id         TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			decision   TEXT NOT NULL,
			rationale  TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS errors (
			id         TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			error      TEXT NOT NULL,
			resolution TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history (
			version        INTEGER PRIMARY KEY,
			snapshot       TEXT NOT NULL,
			change_type    TEXT NOT NULL DEFAULT 'save',
			source_version INTEGER,
			created_at     TEXT NOT NULL,

			CHECK (change_type IN ('save', 'clear', 'rollback'))
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return runMigrations(ctx, db)
}

// runMigrations records the layout version, refusing databases written by a newer layout.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var current int
	err := db.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
		return err
	case err != nil:
		return err
	case current > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	return nil
}

func isNotADatabase(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "disk image is malformed")
}

// openError classifies a failure while opening path. The driver may run the DSN
// pragmas on connect, so a file that is not a database can fail at either step.
func openError(path, op string, err error) error {
	if isNotADatabase(err) {
		return corruptError(path, err)
	}
	return ioError(op, err)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStorage) load(ctx context.Context) (*state.AgentState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ioError("beginning read", err)
	}
	defer tx.Rollback()

	st, err := readState(ctx, tx)
	if err != nil {
		return nil, s.classify("reading state", err)
	}
	return st, nil
}

func (s *SQLiteStorage) save(ctx context.Context, st *state.AgentState) (int64, error) {
	return 0, s.inTx(ctx, func(tx *sql.Tx) error {
		return writeState(ctx, tx, st)
	})
}

func (s *SQLiteStorage) clear(ctx context.Context) (int64, error) {
	return s.save(ctx, state.New())
}

// inTx runs fn in a write transaction, rolling back on any error.
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return s.classify("writing state", err)
	}
	if err := tx.Commit(); err != nil {
		return ioError("committing transaction", err)
	}
	return nil
}

// classify attaches the taxonomy kind to an untyped database error.
func (s *SQLiteStorage) classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrCorruptData), errors.Is(err, ErrIO), errors.Is(err, ErrVersionNotFound),
		errors.Is(err, state.ErrInvalidState), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotADatabase(err):
		return corruptError(s.path, err)
	default:
		return ioError(op, err)
	}
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.markClosed(s.db.Close)
}

func readState(ctx context.Context, q queryer) (*state.AgentState, error) {
	st := state.New()

	plan, err := readPlan(ctx, q)
	if err != nil {
		return nil, err
	}
	st.Plan = plan

	if err := readRows(ctx, q, `SELECT id, content, section, created_at FROM notes ORDER BY position`, func(rows *sql.Rows) error {
		var n state.Note
		var created string
		if err := rows.Scan(&n.ID, &n.Content, &n.Section, &created); err != nil {
			return err
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		st.Notes = append(st.Notes, n)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading notes: %w", err)
	}

	if err := readRows(ctx, q, `SELECT id, decision, rationale, created_at FROM decisions ORDER BY position`, func(rows *sql.Rows) error {
		var d state.Decision
		var created string
		if err := rows.Scan(&d.ID, &d.Decision, &d.Rationale, &created); err != nil {
			return err
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		st.Decisions = append(st.Decisions, d)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading decisions: %w", err)
	}

	if err := readRows(ctx, q, `SELECT id, error, resolution, created_at FROM errors ORDER BY position`, func(rows *sql.Rows) error {
		var e state.ErrorLog
		var created string
		if err := rows.Scan(&e.ID, &e.Error, &e.Resolution, &created); err != nil {
			return err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		st.Errors = append(st.Errors, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading errors: %w", err)
	}

	return st, nil
}

func readPlan(ctx context.Context, q queryer) (*state.TaskPlan, error) {
	var (
		plan             state.TaskPlan
		status           string
		created, updated string
	)
	err := q.QueryRowContext(ctx, `SELECT goal, status, created_at, updated_at FROM plan WHERE id = 1`).
		Scan(&plan.Goal, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	plan.Status = state.PlanStatus(status)
	if plan.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if plan.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	plan.Phases = []state.Phase{}
	err = readRows(ctx, q, `
		SELECT name, description, status, started_at, completed_at, error_message
		FROM phases WHERE plan_id = 1 ORDER BY position
	`, func(rows *sql.Rows) error {
		var (
			ph                 state.Phase
			status             string
			started, completed sql.NullString
		)
		if err := rows.Scan(&ph.Name, &ph.Description, &status, &started, &completed, &ph.ErrorMessage); err != nil {
			return err
		}
		ph.Status = state.PhaseStatus(status)
		if !ph.Status.Valid() {
			return corruptError("phases", fmt.Errorf("phase %q has unknown status %q", ph.Name, status))
		}
		var err error
		if ph.StartedAt, err = parseNullTime(started); err != nil {
			return err
		}
		if ph.CompletedAt, err = parseNullTime(completed); err != nil {
			return err
		}
		plan.Phases = append(plan.Phases, ph)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading phases: %w", err)
	}
	return &plan, nil
}

func readRows(ctx context.Context, q queryer, query string, scan func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// writeState replaces every live table with the contents of st.
func writeState(ctx context.Context, tx *sql.Tx, st *state.AgentState) error {
	for _, table := range []string{"phases", "plan", "notes", "decisions", "errors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if p := st.Plan; p != nil {
		status := p.Status
		if status == "" {
			status = state.PlanActive
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plan (id, goal, status, created_at, updated_at) VALUES (1, ?, ?, ?, ?)
		`, p.Goal, string(status), formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
		for i, ph := range p.Phases {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO phases (plan_id, position, name, description, status, started_at, completed_at, error_message)
				VALUES (1, ?, ?, ?, ?, ?, ?, ?)
			`, i, ph.Name, ph.Description, string(ph.Status), formatNullTime(ph.StartedAt), formatNullTime(ph.CompletedAt), ph.ErrorMessage); err != nil {
				return fmt.Errorf("inserting phase %q: %w", ph.Name, err)
			}
		}
	}

	for i, n := range st.Notes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notes (id, position, content, section, created_at) VALUES (?, ?, ?, ?, ?)
		`, n.ID, i, n.Content, n.Section, formatTime(n.CreatedAt)); err != nil {
			return fmt.Errorf("inserting note: %w", err)
		}
	}
	for i, d := range st.Decisions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (id, position, decision, rationale, created_at) VALUES (?, ?, ?, ?, ?)
		`, d.ID, i, d.Decision, d.Rationale, formatTime(d.CreatedAt)); err != nil {
			return fmt.Errorf("inserting decision: %w", err)
		}
	}
	for i, e := range st.Errors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO errors (id, position, error, resolution, created_at) VALUES (?, ?, ?, ?, ?)
		`, e.ID, i, e.Error, e.Resolution, formatTime(e.CreatedAt)); err != nil {
			return fmt.Errorf("inserting error log: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, corruptError("timestamp", err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
