// ABOUTME: In-memory fan-out of storage commit events to live subscribers
// ABOUTME: Registered as a store commit hook; feeds the HTTP event stream

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentstate/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event summarizes one durable commit. It carries no note or decision content so a
// stream consumer sees progress without receiving the full state.
type Event struct {
	ID           string           `json:"id"`
	Backend      string           `json:"backend"`
	Kind         store.CommitKind `json:"kind"`
	Version      int64            `json:"version,omitempty"`
	HasPlan      bool             `json:"has_plan"`
	Goal         string           `json:"goal,omitempty"`
	CurrentPhase string           `json:"current_phase,omitempty"`
	Progress     float64          `json:"progress"`
	At           time.Time        `json:"at"`
}

// FromCommit builds the stream form of a commit event.
func FromCommit(ev store.CommitEvent) Event {
	out := Event{
		ID:      uuid.New().String(),
		Backend: ev.Backend,
		Kind:    ev.Kind,
		Version: ev.Version,
		At:      ev.At,
	}
	if st := ev.State; st != nil {
		out.Progress = st.Progress()
		if st.Plan != nil {
			out.HasPlan = true
			out.Goal = st.Plan.Goal
			if cur := st.Plan.CurrentPhase(); cur != nil {
				out.CurrentPhase = cur.Name
			}
		}
	}
	return out
}

// Broadcaster delivers commit events to every current subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	// done is closed by Close and releases every subscription watcher.
	done   chan struct{}
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		done:        make(chan struct{}),
		logger:      logger.With("component", "events"),
	}
}

// Hook adapts the broadcaster to a store commit hook.
func (b *Broadcaster) Hook() store.CommitHook {
	return func(_ context.Context, ev store.CommitEvent) error {
		b.Publish(FromCommit(ev))
		return nil
	}
}

// Subscribe registers a subscriber and returns its channel and ID. The subscription
// ends, and the channel closes, when ctx is canceled or the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(subID)
		case <-b.done:
		}
	}()

	return ch, subID
}

// Publish sends ev to all subscribers.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscriptions receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.logger.Debug("broadcaster closed")
}
