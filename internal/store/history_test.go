// ABOUTME: Tests for the versioned SQLite backend
// ABOUTME: Covers version monotonicity, retention eviction and forward-logged rollback

package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/2389/agentstate/internal/state"
)

func newTestHistory(t *testing.T, maxHistory int) (*HistoryStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	h, err := NewHistoryStorage(path, WithMaxHistory(maxHistory))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, path
}

func versions(t *testing.T, h *HistoryStorage) []int64 {
	t.Helper()
	entries, err := h.GetHistory(context.Background(), 0)
	require.NoError(t, err)
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Version)
	}
	return out
}

func TestNewHistoryStorage_RejectsZeroRetention(t *testing.T) {
	_, err := NewHistoryStorage(filepath.Join(t.TempDir(), "s.db"), WithMaxHistory(0))
	assert.Error(t, err)
}

func TestHistoryStorage_VersionsAreMonotonic(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, h.Save(ctx, stateWithGoal(t, fmt.Sprintf("goal %d", i))))
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, versions(t, h))

	entries, err := h.GetHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[0].Version)
	assert.Equal(t, ChangeSave, entries[0].ChangeType)
	assert.Nil(t, entries[0].SourceVersion)

	snap, err := entries[1].State()
	require.NoError(t, err)
	assert.Equal(t, "goal 3", snap.Plan.Goal)
}

func TestHistoryStorage_FailedSaveConsumesNoVersion(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, sampleState(t)))

	bad := sampleState(t)
	bad.Errors = append(bad.Errors, bad.Errors[0])
	assert.Error(t, h.Save(ctx, bad))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, h.Save(canceled, sampleState(t)))

	require.NoError(t, h.Save(ctx, sampleState(t)))
	assert.Equal(t, []int64{2, 1}, versions(t, h))
}

func TestHistoryStorage_RetentionEvictsOldest(t *testing.T) {
	h, _ := newTestHistory(t, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Save(ctx, stateWithGoal(t, fmt.Sprintf("goal %d", i))))
	}
	assert.Equal(t, []int64{3, 2}, versions(t, h))
}

func TestHistoryStorage_RollbackIsForwardLogged(t *testing.T) {
	h, _ := newTestHistory(t, 2)
	ctx := context.Background()

	var saved []*state.AgentState
	for i := 1; i <= 3; i++ {
		st := stateWithGoal(t, fmt.Sprintf("goal %d", i))
		saved = append(saved, st)
		require.NoError(t, h.Save(ctx, st))
	}

	restored, err := h.Rollback(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, saved[1], restored)

	live, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved[1], live)

	entries, err := h.GetHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Version)
	assert.Equal(t, ChangeRollback, entries[0].ChangeType)
	require.NotNil(t, entries[0].SourceVersion)
	assert.Equal(t, int64(2), *entries[0].SourceVersion)
	assert.Equal(t, int64(3), entries[1].Version)

	snap, err := entries[0].State()
	require.NoError(t, err)
	assert.Equal(t, saved[1], snap)
}

func TestHistoryStorage_RollbackGrowsHistory(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, h.Save(ctx, stateWithGoal(t, fmt.Sprintf("goal %d", i))))
	}

	_, err := h.Rollback(ctx, 1)
	require.NoError(t, err)
	_, err = h.Rollback(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 4, 3, 2, 1}, versions(t, h))
	live, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "goal 2", live.Plan.Goal)
}

func TestHistoryStorage_RollbackMissingVersion(t *testing.T) {
	h, _ := newTestHistory(t, 2)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Save(ctx, stateWithGoal(t, fmt.Sprintf("goal %d", i))))
	}

	for _, v := range []int64{1, 0, -1, 99} {
		_, err := h.Rollback(ctx, v)
		assert.ErrorIs(t, err, ErrVersionNotFound, "version %d", v)
	}

	live, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "goal 3", live.Plan.Goal)
	assert.Equal(t, []int64{3, 2}, versions(t, h))
}

func TestHistoryStorage_ClearIsRecorded(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, sampleState(t)))
	require.NoError(t, h.Clear(ctx))

	entries, err := h.GetHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ChangeClear, entries[0].ChangeType)

	snap, err := entries[0].State()
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())

	// The pre-clear state is still recoverable.
	restored, err := h.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Build API", restored.Plan.Goal)
}

func TestHistoryStorage_UpdateAppendsVersion(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()

	_, err := h.Update(ctx, func(st *state.AgentState) error {
		st.AddDecision("ship it", "tests pass")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, versions(t, h))
}

func TestHistoryStorage_VersionsContinueAfterReopen(t *testing.T) {
	h, path := newTestHistory(t, 100)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, sampleState(t)))
	require.NoError(t, h.Save(ctx, sampleState(t)))
	require.NoError(t, h.Close())

	reopened, err := NewHistoryStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Save(ctx, sampleState(t)))
	assert.Equal(t, []int64{3, 2, 1}, versions(t, reopened))
}

func TestHistoryStorage_ConcurrentSavesHaveNoGaps(t *testing.T) {
	h, _ := newTestHistory(t, 1000)
	const writers = 20

	states := make([]*state.AgentState, writers)
	for i := range states {
		states[i] = stateWithGoal(t, fmt.Sprintf("goal %d", i))
	}

	var g errgroup.Group
	for _, st := range states {
		g.Go(func() error { return h.Save(context.Background(), st) })
	}
	require.NoError(t, g.Wait())

	got := versions(t, h)
	require.Len(t, got, writers)
	for i, v := range got {
		assert.Equal(t, int64(writers-i), v)
	}
}

func TestHistoryStorage_ConcurrentRollbackAndSave(t *testing.T) {
	h, _ := newTestHistory(t, 1000)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, stateWithGoal(t, "base")))

	states := make([]*state.AgentState, 10)
	for i := range states {
		states[i] = stateWithGoal(t, fmt.Sprintf("goal %d", i))
	}

	var g errgroup.Group
	for i, st := range states {
		g.Go(func() error {
			if i%2 == 0 {
				_, err := h.Rollback(ctx, 1)
				return err
			}
			return h.Save(ctx, st)
		})
	}
	require.NoError(t, g.Wait())

	got := versions(t, h)
	require.Len(t, got, 11)
	assert.Equal(t, int64(11), got[0])

	// Live state always equals the newest snapshot.
	entries, err := h.GetHistory(ctx, 1)
	require.NoError(t, err)
	newest, err := entries[0].State()
	require.NoError(t, err)
	live, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, newest, live)
}

func TestHistoryStorage_HistoryIsLazyAndRestartable(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, h.Save(ctx, stateWithGoal(t, fmt.Sprintf("goal %d", i))))
	}

	seq := h.History(ctx, 10)
	var first []int64
	for e, err := range seq {
		require.NoError(t, err)
		first = append(first, e.Version)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{4, 3}, first)

	// Ranging again runs a fresh query and sees later commits.
	require.NoError(t, h.Save(ctx, sampleState(t)))
	var second []int64
	for e, err := range seq {
		require.NoError(t, err)
		second = append(second, e.Version)
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, second)
}

func TestHistoryStorage_RollbackHook(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()

	var events []CommitEvent
	h.OnCommit(func(_ context.Context, ev CommitEvent) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, h.Save(ctx, stateWithGoal(t, "one")))
	require.NoError(t, h.Save(ctx, stateWithGoal(t, "two")))
	_, err := h.Rollback(ctx, 1)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, CommitSaved, events[0].Kind)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, CommitRolledBack, events[2].Kind)
	assert.Equal(t, int64(3), events[2].Version)
	assert.Equal(t, "one", events[2].State.Plan.Goal)
	assert.Equal(t, "sqlite_history", events[2].Backend)
}

func TestHistoryStorage_CorruptSnapshot(t *testing.T) {
	h, _ := newTestHistory(t, 100)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, sampleState(t)))
	require.NoError(t, h.Save(ctx, stateWithGoal(t, "current")))

	_, err := h.live.db.Exec(`UPDATE history SET snapshot = '{broken' WHERE version = 1`)
	require.NoError(t, err)

	_, err = h.Rollback(ctx, 1)
	assert.ErrorIs(t, err, ErrCorruptData)

	live, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "current", live.Plan.Goal)
	assert.Equal(t, []int64{2, 1}, versions(t, h))
}

func TestNewHistoryStorage_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 512), 0o600))

	_, err := NewHistoryStorage(path)
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.NotErrorIs(t, err, ErrIO)
}
