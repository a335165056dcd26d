// ABOUTME: Tests for the flat-file JSON backend and atomic file replacement
// ABOUTME: Covers missing files, corrupt payloads, permissions and interrupted saves

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentstate/internal/state"
)

func TestJSONStorage_MissingFileDoesNotCreateIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewJSONStorage(path)
	defer s.Close()

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "load must not create the file")
}

func TestJSONStorage_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")
	s := NewJSONStorage(path)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), sampleState(t)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":   "this is not json",
		"truncated": `{"plan": {"goal": "x", "phases": [`,
		"empty":     "",
		"null":      "null",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			s := NewJSONStorage(path)
			defer s.Close()

			_, err := s.Load(context.Background())
			assert.ErrorIs(t, err, ErrCorruptData)
		})
	}
}

func TestJSONStorage_UnreadablePathIsIOError(t *testing.T) {
	// A directory where the file should be cannot be read as a file.
	path := t.TempDir()
	s := NewJSONStorage(path)
	defer s.Close()

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrIO)
}

func TestJSONStorage_FailedSaveKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewJSONStorage(path)
	defer s.Close()
	ctx := context.Background()

	want := sampleState(t)
	require.NoError(t, s.Save(ctx, want))

	renameFile = func(string, string) error { return errors.New("simulated crash before rename") }
	t.Cleanup(func() { renameFile = os.Rename })

	err := s.Save(ctx, stateWithGoal(t, "never lands"))
	assert.ErrorIs(t, err, ErrIO)

	renameFile = os.Rename
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The temp file is cleaned up.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestJSONStorage_ClearWritesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewJSONStorage(path)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState(t)))
	require.NoError(t, s.Clear(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := state.Decode(data)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestJSONStorage_ReadsLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{
		"plan": {"goal": "old", "phases": [{"name": "a", "status": "started"}]},
		"notes": [{"content": "kept", "created_at": "2024-03-01T10:00:00Z"}],
		"decisions": [],
		"errors": []
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s := NewJSONStorage(path)
	defer s.Close()

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.CurrentSchemaVersion, got.SchemaVersion)
	assert.Equal(t, state.PhasePending, got.Plan.Phases[0].Status)
	assert.Equal(t, "kept", got.Notes[0].Content)
	assert.NotEmpty(t, got.Notes[0].ID)
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, writeFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0o600))

	data, ok, err := readFileIfExists(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(data))

	_, ok, err = readFileIfExists(path + ".missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
