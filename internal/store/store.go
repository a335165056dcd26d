// ABOUTME: Storage backend contract, error taxonomy and commit events
// ABOUTME: Every backend (memory, file, encrypted file, sqlite, redis) satisfies Backend

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/2389/agentstate/internal/envelope"
	"github.com/2389/agentstate/internal/state"
)

var (
	// ErrIO is returned when the underlying file, database or server is unavailable
	// or a write fails.
	ErrIO = errors.New("storage unavailable")

	// ErrCorruptData is returned when persisted data exists but cannot be parsed.
	// A source that was never written is not corrupt; it loads as the empty state.
	ErrCorruptData = errors.New("corrupt state data")

	// ErrVersionNotFound is returned when a rollback target is absent from history.
	ErrVersionNotFound = errors.New("version not found")

	// ErrAuthentication is returned when an encrypted payload fails its integrity
	// check: wrong password or tampered data.
	ErrAuthentication = envelope.ErrAuthentication

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend closed")
)

// CommitKind describes what a commit did.
type CommitKind string

// Commit kinds.
const (
	CommitSaved      CommitKind = "saved"
	CommitCleared    CommitKind = "cleared"
	CommitRolledBack CommitKind = "rolled_back"
)

// CommitEvent is delivered to hooks after a write is durable.
type CommitEvent struct {
	Backend string
	Kind    CommitKind
	// Version is the history version written by a versioned backend, 0 otherwise.
	Version int64
	State   *state.AgentState
	At      time.Time
}

// CommitHook observes durable commits. Hooks run synchronously, in registration order,
// while the backend's guard is held, so they see commits in commit order and must not
// call back into the same backend. A hook error is logged and never undoes the commit.
type CommitHook func(ctx context.Context, ev CommitEvent) error

// Backend persists one AgentState.
type Backend interface {
	// Load returns the persisted state, or the empty state if nothing was ever written.
	Load(ctx context.Context) (*state.AgentState, error)
	// Save replaces the persisted state with st.
	Save(ctx context.Context, st *state.AgentState) error
	// Clear durably resets to the empty state.
	Clear(ctx context.Context) error
	// Update runs load, fn, save as one sequence no other caller of this backend can
	// interleave with. An error from fn aborts without saving.
	Update(ctx context.Context, fn func(*state.AgentState) error) (*state.AgentState, error)
	// OnCommit registers a hook invoked after every durable commit.
	OnCommit(hook CommitHook)
	// Name identifies the backend kind in logs and metrics.
	Name() string
	Close() error
}

// Versioned is a Backend that keeps a history ledger.
type Versioned interface {
	Backend
	// History lazily yields up to limit entries, newest first. Each call runs a fresh query.
	History(ctx context.Context, limit int) iter.Seq2[*HistoryEntry, error]
	// GetHistory collects History into a slice.
	GetHistory(ctx context.Context, limit int) ([]*HistoryEntry, error)
	// Rollback restores the snapshot at version and records the rollback as a new entry.
	Rollback(ctx context.Context, version int64) (*state.AgentState, error)
}

// ChangeType records why a history entry was written.
type ChangeType string

// Change types.
const (
	ChangeSave     ChangeType = "save"
	ChangeClear    ChangeType = "clear"
	ChangeRollback ChangeType = "rollback"
)

// HistoryEntry is one immutable snapshot in the history ledger.
type HistoryEntry struct {
	Version    int64           `json:"version"`
	Snapshot   json.RawMessage `json:"snapshot"`
	ChangeType ChangeType      `json:"change_type"`
	// SourceVersion is the version restored by a rollback entry.
	SourceVersion *int64    `json:"source_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// State decodes the entry's snapshot.
func (e *HistoryEntry) State() (*state.AgentState, error) {
	st, err := state.Decode(e.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: history version %d: %w", ErrCorruptData, e.Version, err)
	}
	return st, nil
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

func corruptError(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorruptData, source, err)
}
