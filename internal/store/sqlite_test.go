// ABOUTME: Tests for the SQLite backend
// ABOUTME: Covers schema creation, WAL mode, reopen persistence, corruption and both drivers

package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentstate/internal/state"
)

func newTestSQLite(t *testing.T, opts ...Option) (*SQLiteStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLiteStorage(path, opts...)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "state.db")

	s, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStorage_WALMode(t *testing.T) {
	s, _ := newTestSQLite(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	s, path := newTestSQLite(t)
	ctx := context.Background()
	want := sampleState(t)
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStorage_PreservesEntryOrder(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	st := state.New()
	for _, c := range []string{"zulu", "alpha", "mike"} {
		st.AddNote(c, "")
	}
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Notes, 3)
	assert.Equal(t, "zulu", got.Notes[0].Content)
	assert.Equal(t, "mike", got.Notes[2].Content)
}

func TestSQLiteStorage_FailedSaveKeepsPreviousState(t *testing.T) {
	s, _ := newTestSQLite(t)
	want := sampleState(t)
	require.NoError(t, s.Save(context.Background(), want))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Save(ctx, stateWithGoal(t, "never lands")))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStorage_CorruptRow(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleState(t)))

	_, err := s.db.Exec(`UPDATE notes SET created_at = 'last tuesday'`)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestSQLiteStorage_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 512), 0o600))

	_, err := NewSQLiteStorage(path)
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.NotErrorIs(t, err, ErrIO)
}

func TestOpenError(t *testing.T) {
	err := openError("state.db", "opening database", errors.New("file is not a database (26)"))
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.NotErrorIs(t, err, ErrIO)

	err = openError("state.db", "opening database", errors.New("unable to open database file"))
	assert.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrCorruptData)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	want := sampleState(t)
	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStorage_UnknownDriver(t *testing.T) {
	_, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "s.db"), WithSQLiteDriver("postgres"))
	assert.Error(t, err)
}

func TestSQLiteStorage_CGODriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLiteStorage(path, WithSQLiteDriver(DriverCGO))
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED=0") {
		t.Skip("go-sqlite3 requires cgo")
	}
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	want := sampleState(t)
	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Both drivers read the same file format.
	require.NoError(t, s.Close())
	pure, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer pure.Close()
	got, err = pure.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN("/tmp/x.db", DriverModernc, DefaultBusyTimeout)
	require.NoError(t, err)
	assert.Contains(t, dsn, "journal_mode(WAL)")
	assert.Contains(t, dsn, "busy_timeout(5000)")

	dsn, err = sqliteDSN("/tmp/x.db", DriverCGO, DefaultBusyTimeout)
	require.NoError(t, err)
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_busy_timeout=5000")
}
