// Package store persists one agent's working state across interchangeable backends.
//
// # Architecture
//
// Every backend satisfies Backend. Backends that keep a history ledger also satisfy
// Versioned:
//
//   - MemoryStorage: process-local, nothing survives a restart
//   - JSONStorage: one JSON document, replaced atomically on save
//   - EncryptedJSONStorage: the same document sealed in a password envelope
//   - SQLiteStorage: relational tables written in a single transaction
//   - HistoryStorage: SQLiteStorage plus an append-only snapshot ledger and rollback
//   - RedisStorage: the JSON document under one Redis key
//
// Open builds the backend named by a config.Config.
//
// # Concurrency
//
// Each backend instance carries its own guard. Load, Save, Clear, Update and
// Rollback on one instance never interleave. Update runs load, mutate, save as one
// unit so two callers cannot lose each other's changes. Separate instances pointed
// at the same file or database are not coordinated with each other.
//
// # Errors
//
// Failures carry one of ErrIO, ErrCorruptData, ErrVersionNotFound or
// ErrAuthentication and should be matched with errors.Is. A source that was never
// written is not an error; it loads as state.New().
//
// # SQLite Configuration
//
// Both SQLite backends open the database with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=NORMAL;
//	PRAGMA foreign_keys=ON;
//
// and begin write transactions IMMEDIATE. The driver is modernc.org/sqlite by default;
// WithSQLiteDriver(DriverCGO) selects github.com/mattn/go-sqlite3.
//
// # Commit Hooks
//
// OnCommit registers a hook that runs after each durable save, clear or rollback,
// while the guard is still held. Hooks therefore observe commits in commit order.
// A hook must not call back into the backend that invoked it.
package store
