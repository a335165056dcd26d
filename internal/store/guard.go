// ABOUTME: Per-backend concurrency guard shared by every storage implementation
// ABOUTME: Serializes load/save/clear/update, runs commit hooks and records metrics

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentstate/internal/state"
)

// rawBackend is the unguarded storage a concrete backend provides. Its methods are
// only ever called with the guard held.
type rawBackend interface {
	load(ctx context.Context) (*state.AgentState, error)
	// save returns the history version written, or 0 for unversioned backends.
	save(ctx context.Context, st *state.AgentState) (int64, error)
	clear(ctx context.Context) (int64, error)
}

// guard owns the mutual-exclusion lock of one backend instance. Concrete backends
// embed it and hand it their rawBackend.
type guard struct {
	mu     sync.Mutex
	closed bool
	name   string
	logger *slog.Logger
	raw    rawBackend

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

func (g *guard) init(name string, raw rawBackend, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	g.name = name
	g.raw = raw
	g.logger = logger.With("component", "store", "backend", name)
}

// Name identifies the backend kind.
func (g *guard) Name() string {
	return g.name
}

// OnCommit registers a hook. Hooks run in registration order.
func (g *guard) OnCommit(hook CommitHook) {
	g.hooksMu.Lock()
	defer g.hooksMu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Load returns the persisted state.
func (g *guard) Load(ctx context.Context) (st *state.AgentState, err error) {
	defer g.track("load", time.Now(), &err)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}

	st, err = g.raw.load(ctx)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("loaded state", "has_plan", st.Plan != nil, "notes", len(st.Notes))
	return st, nil
}

// Save replaces the persisted state. st is normalized in place first.
func (g *guard) Save(ctx context.Context, st *state.AgentState) (err error) {
	defer g.track("save", time.Now(), &err)

	if st == nil {
		return fmt.Errorf("%w: nil state", state.ErrInvalidState)
	}
	st.Normalize()
	if err := st.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	version, err := g.raw.save(ctx, st)
	if err != nil {
		return err
	}
	g.logger.Debug("saved state", "version", version)
	g.notify(ctx, CommitSaved, version, st)
	return nil
}

// Clear durably resets to the empty state.
func (g *guard) Clear(ctx context.Context) (err error) {
	defer g.track("clear", time.Now(), &err)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	version, err := g.raw.clear(ctx)
	if err != nil {
		return err
	}
	g.logger.Info("cleared state", "version", version)
	g.notify(ctx, CommitCleared, version, state.New())
	return nil
}

// Update runs load, fn, save under one acquisition of the guard. The lock is released
// on every exit path. The returned state is a copy the caller may keep.
func (g *guard) Update(ctx context.Context, fn func(*state.AgentState) error) (out *state.AgentState, err error) {
	defer g.track("update", time.Now(), &err)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}

	st, err := g.raw.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.Normalize()
	if err := st.Validate(); err != nil {
		return nil, err
	}

	version, err := g.raw.save(ctx, st)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("updated state", "version", version)
	g.notify(ctx, CommitSaved, version, st)
	return st.Clone(), nil
}

// markClosed flags the guard closed and runs release once. Later calls are no-ops.
func (g *guard) markClosed(release func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.logger.Info("closing backend")
	if release == nil {
		return nil
	}
	return release()
}

// notify runs hooks; the caller holds g.mu.
func (g *guard) notify(ctx context.Context, kind CommitKind, version int64, st *state.AgentState) {
	g.hooksMu.RLock()
	hooks := append([]CommitHook(nil), g.hooks...)
	g.hooksMu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	ev := CommitEvent{
		Backend: g.name,
		Kind:    kind,
		Version: version,
		State:   st.Clone(),
		At:      state.Now(),
	}
	for i, hook := range hooks {
		if err := hook(ctx, ev); err != nil {
			g.logger.Warn("commit hook failed", "hook", i, "kind", kind, "error", err)
		}
	}
}

// track records metrics for an operation; err is read when the deferred call runs.
func (g *guard) track(op string, start time.Time, err *error) {
	observe(g.name, op, start, *err)
}
