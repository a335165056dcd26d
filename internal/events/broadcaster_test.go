// ABOUTME: Tests for the commit event broadcaster
// ABOUTME: Covers fan-out, slow subscribers, cancellation and the store hook adapter

package events

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentstate/internal/state"
	"github.com/2389/agentstate/internal/store"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Publish(Event{ID: "evt-1", Kind: store.CommitSaved})

	assert.Equal(t, "evt-1", receive(t, ch1).ID)
	assert.Equal(t, "evt-1", receive(t, ch2).ID)
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	for range subscriberBufferSize + 10 {
		b.Publish(Event{Kind: store.CommitSaved})
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	require.Equal(t, 1, b.Subscribers())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcaster_UnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcaster_CloseEndsSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(t.Context())

	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context())
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestBroadcaster_CloseReleasesWatchers(t *testing.T) {
	before := runtime.NumGoroutine()

	b := NewBroadcaster(nil)
	for range 20 {
		b.Subscribe(context.Background())
	}
	require.GreaterOrEqual(t, runtime.NumGoroutine(), before+20)

	b.Close()
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond, "subscriptions with live contexts still hold goroutines")
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Subscribe(ctx)
		}()
		go func() {
			defer wg.Done()
			b.Publish(Event{Kind: store.CommitSaved})
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, b.Subscribers())
}

func TestHook_PublishesStoreCommits(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	backend := store.NewMemoryStorage()
	defer backend.Close()
	backend.OnCommit(b.Hook())

	ch, _ := b.Subscribe(t.Context())

	st := state.New()
	plan, err := state.NewPlan("Build API", []string{"Design", "Implement"}, state.Now())
	require.NoError(t, err)
	require.NoError(t, plan.StartPhase("Design", state.Now(), state.TransitionOptions{}))
	st.Plan = plan
	require.NoError(t, backend.Save(t.Context(), st))

	ev := receive(t, ch)
	assert.Equal(t, store.CommitSaved, ev.Kind)
	assert.Equal(t, "memory", ev.Backend)
	assert.True(t, ev.HasPlan)
	assert.Equal(t, "Build API", ev.Goal)
	assert.Equal(t, "Design", ev.CurrentPhase)
	assert.NotEmpty(t, ev.ID)

	require.NoError(t, backend.Clear(t.Context()))
	ev = receive(t, ch)
	assert.Equal(t, store.CommitCleared, ev.Kind)
	assert.False(t, ev.HasPlan)
}
