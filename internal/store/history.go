// ABOUTME: SQLite backend with an append-only, versioned snapshot ledger
// ABOUTME: Every commit appends a full snapshot; rollback restores one and logs itself forward

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/2389/agentstate/internal/state"
)

// DefaultHistoryLimit is the number of entries History returns for a non-positive limit.
const DefaultHistoryLimit = 100

// HistoryStorage wraps SQLiteStorage and records every commit in the history table,
// inside the same transaction as the live-table update.
type HistoryStorage struct {
	guard
	live       *SQLiteStorage
	maxHistory int
}

// NewHistoryStorage opens a versioned SQLite backend at path. WithMaxHistory sets the
// retention cap; the oldest entries are evicted once it is exceeded.
func NewHistoryStorage(path string, opts ...Option) (*HistoryStorage, error) {
	o := buildOptions(opts)
	if o.maxHistory < 1 {
		return nil, fmt.Errorf("max history must be at least 1, got %d", o.maxHistory)
	}

	live, err := NewSQLiteStorage(path, opts...)
	if err != nil {
		return nil, err
	}

	h := &HistoryStorage{live: live, maxHistory: o.maxHistory}
	h.guard.init("sqlite_history", h, o.logger.With("path", path, "max_history", o.maxHistory))
	return h, nil
}

func (h *HistoryStorage) load(ctx context.Context) (*state.AgentState, error) {
	return h.live.load(ctx)
}

func (h *HistoryStorage) save(ctx context.Context, st *state.AgentState) (int64, error) {
	return h.commit(ctx, st, ChangeSave, nil)
}

func (h *HistoryStorage) clear(ctx context.Context) (int64, error) {
	return h.commit(ctx, state.New(), ChangeClear, nil)
}

// commit writes the live tables and the history entry in one transaction.
func (h *HistoryStorage) commit(ctx context.Context, st *state.AgentState, change ChangeType, source *int64) (int64, error) {
	var version int64
	err := h.live.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if version, err = h.appendEntry(ctx, tx, st, change, source); err != nil {
			return err
		}
		return writeState(ctx, tx, st)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// appendEntry inserts the next version and evicts entries beyond the retention cap.
func (h *HistoryStorage) appendEntry(ctx context.Context, tx *sql.Tx, st *state.AgentState, change ChangeType, source *int64) (int64, error) {
	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM history`).Scan(&last); err != nil {
		return 0, fmt.Errorf("reading last version: %w", err)
	}
	version := last + 1

	snapshot, err := state.Encode(st)
	if err != nil {
		return 0, err
	}

	var src sql.NullInt64
	if source != nil {
		src = sql.NullInt64{Int64: *source, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (version, snapshot, change_type, source_version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, version, string(snapshot), string(change), src, formatTime(state.Now())); err != nil {
		return 0, fmt.Errorf("inserting history version %d: %w", version, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE version <= ?`, version-int64(h.maxHistory))
	if err != nil {
		return 0, fmt.Errorf("evicting history: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		h.logger.Debug("evicted history entries", "count", n, "version", version)
	}
	return version, nil
}

// Rollback restores the snapshot stored at version and appends the rollback as a new
// entry. It holds the same guard as Save. A missing version returns ErrVersionNotFound
// and leaves both live state and history untouched.
func (h *HistoryStorage) Rollback(ctx context.Context, version int64) (out *state.AgentState, err error) {
	defer h.track("rollback", time.Now(), &err)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	var (
		restored   *state.AgentState
		newVersion int64
	)
	err = h.live.inTx(ctx, func(tx *sql.Tx) error {
		var snapshot string
		err := tx.QueryRowContext(ctx, `SELECT snapshot FROM history WHERE version = ?`, version).Scan(&snapshot)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrVersionNotFound, version)
		}
		if err != nil {
			return fmt.Errorf("reading history version %d: %w", version, err)
		}

		restored, err = state.Decode([]byte(snapshot))
		if err != nil {
			return corruptError(fmt.Sprintf("history version %d", version), err)
		}
		if newVersion, err = h.appendEntry(ctx, tx, restored, ChangeRollback, &version); err != nil {
			return err
		}
		return writeState(ctx, tx, restored)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("rolled back state", "to_version", version, "version", newVersion)
	h.notify(ctx, CommitRolledBack, newVersion, restored)
	return restored.Clone(), nil
}

// History yields up to limit entries, newest first. Each range over the returned
// sequence runs a fresh query. A non-positive limit uses DefaultHistoryLimit.
func (h *HistoryStorage) History(ctx context.Context, limit int) iter.Seq2[*HistoryEntry, error] {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return func(yield func(*HistoryEntry, error) bool) {
		rows, err := h.live.db.QueryContext(ctx, `
			SELECT version, snapshot, change_type, source_version, created_at
			FROM history ORDER BY version DESC LIMIT ?
		`, limit)
		if err != nil {
			yield(nil, ioError("querying history", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			entry, err := scanHistoryEntry(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, ioError("querying history", err))
		}
	}
}

// GetHistory collects up to limit entries, newest first.
func (h *HistoryStorage) GetHistory(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	var entries []*HistoryEntry
	for entry, err := range h.History(ctx, limit) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func scanHistoryEntry(rows *sql.Rows) (*HistoryEntry, error) {
	var (
		e        HistoryEntry
		snapshot string
		change   string
		source   sql.NullInt64
		created  string
	)
	if err := rows.Scan(&e.Version, &snapshot, &change, &source, &created); err != nil {
		return nil, ioError("scanning history", err)
	}
	e.Snapshot = []byte(snapshot)
	e.ChangeType = ChangeType(change)
	if source.Valid {
		v := source.Int64
		e.SourceVersion = &v
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}

// Close closes the underlying database.
func (h *HistoryStorage) Close() error {
	return h.markClosed(h.live.Close)
}
