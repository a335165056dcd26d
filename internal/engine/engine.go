// ABOUTME: Engine facade translating agent operations into guarded load-mutate-save cycles
// ABOUTME: Works against any store.Backend; history and rollback need a versioned one

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/agentstate/internal/state"
	"github.com/2389/agentstate/internal/store"
)

var (
	// ErrInvalidInput is returned when a required argument is empty.
	ErrInvalidInput = errors.New("invalid input")

	// ErrHistoryUnsupported is returned by History and Rollback when the backend
	// keeps no history ledger.
	ErrHistoryUnsupported = errors.New("backend does not keep history")
)

// Options holds the phase transition rules.
type Options struct {
	SingleActivePhase bool
	AutoAdvance       bool
}

// Engine is the single entry point for reading and mutating agent state.
type Engine struct {
	backend store.Backend
	rules   state.TransitionOptions
	logger  *slog.Logger
}

// New creates an Engine over backend. A nil logger uses slog.Default().
func New(backend store.Backend, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		rules: state.TransitionOptions{
			SingleActive: opts.SingleActivePhase,
			AutoAdvance:  opts.AutoAdvance,
		},
		logger: logger.With("component", "engine", "backend", backend.Name()),
	}
}

// Backend returns the backend the engine writes to.
func (e *Engine) Backend() store.Backend {
	return e.backend
}

// State returns a copy of the full persisted state.
func (e *Engine) State(ctx context.Context) (*state.AgentState, error) {
	return e.backend.Load(ctx)
}

// CreatePlan replaces any existing plan with a new one whose phases are all pending.
func (e *Engine) CreatePlan(ctx context.Context, goal string, phases []string) (*state.TaskPlan, error) {
	var plan *state.TaskPlan
	_, err := e.backend.Update(ctx, func(st *state.AgentState) error {
		p, err := state.NewPlan(goal, phases, state.Now())
		if err != nil {
			return err
		}
		st.Plan = p
		plan = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	e.logger.Info("plan created", "goal", goal, "phases", len(phases))
	return plan, nil
}

// StartPhase moves a pending phase to in_progress.
func (e *Engine) StartPhase(ctx context.Context, name string) (*state.TaskPlan, error) {
	st, err := e.updatePlan(ctx, func(p *state.TaskPlan) error {
		return p.StartPhase(name, state.Now(), e.rules)
	})
	if err != nil {
		return nil, fmt.Errorf("starting phase %q: %w", name, err)
	}
	e.logger.Info("phase started", "phase", name)
	return st.Plan, nil
}

// CompletePhase marks a phase completed and, with auto-advance, starts the next
// pending phase.
func (e *Engine) CompletePhase(ctx context.Context, name string) (*state.TaskPlan, error) {
	var next *state.Phase
	st, err := e.updatePlan(ctx, func(p *state.TaskPlan) error {
		var err error
		next, err = p.CompletePhase(name, state.Now(), e.rules)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("completing phase %q: %w", name, err)
	}
	if next != nil {
		e.logger.Info("phase completed", "phase", name, "next", next.Name)
	} else {
		e.logger.Info("phase completed", "phase", name, "plan_status", st.Plan.Status)
	}
	return st.Plan, nil
}

// FailPhase moves a phase that is not yet finished to the terminal failed status.
func (e *Engine) FailPhase(ctx context.Context, name, reason string) (*state.TaskPlan, error) {
	st, err := e.updatePlan(ctx, func(p *state.TaskPlan) error {
		return p.FailPhase(name, reason, state.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("failing phase %q: %w", name, err)
	}
	e.logger.Warn("phase failed", "phase", name, "reason", reason)
	return st.Plan, nil
}

func (e *Engine) updatePlan(ctx context.Context, fn func(*state.TaskPlan) error) (*state.AgentState, error) {
	return e.backend.Update(ctx, func(st *state.AgentState) error {
		if st.Plan == nil {
			return state.ErrNoPlan
		}
		return fn(st.Plan)
	})
}

// AddNote records a note, optionally under a section.
func (e *Engine) AddNote(ctx context.Context, content, section string) (state.Note, error) {
	if strings.TrimSpace(content) == "" {
		return state.Note{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	var note state.Note
	if _, err := e.backend.Update(ctx, func(st *state.AgentState) error {
		note = st.AddNote(content, section)
		return nil
	}); err != nil {
		return state.Note{}, fmt.Errorf("adding note: %w", err)
	}
	e.logger.Debug("note added", "id", note.ID, "section", section)
	return note, nil
}

// AddDecision records a decision and its rationale.
func (e *Engine) AddDecision(ctx context.Context, decision, rationale string) (state.Decision, error) {
	if strings.TrimSpace(decision) == "" || strings.TrimSpace(rationale) == "" {
		return state.Decision{}, fmt.Errorf("%w: decision and rationale are required", ErrInvalidInput)
	}
	var d state.Decision
	if _, err := e.backend.Update(ctx, func(st *state.AgentState) error {
		d = st.AddDecision(decision, rationale)
		return nil
	}); err != nil {
		return state.Decision{}, fmt.Errorf("adding decision: %w", err)
	}
	e.logger.Debug("decision added", "id", d.ID)
	return d, nil
}

// LogError records an error with an optional resolution.
func (e *Engine) LogError(ctx context.Context, msg, resolution string) (state.ErrorLog, error) {
	if strings.TrimSpace(msg) == "" {
		return state.ErrorLog{}, fmt.Errorf("%w: error is required", ErrInvalidInput)
	}
	var entry state.ErrorLog
	if _, err := e.backend.Update(ctx, func(st *state.AgentState) error {
		entry = st.LogError(msg, resolution)
		return nil
	}); err != nil {
		return state.ErrorLog{}, fmt.Errorf("logging error: %w", err)
	}
	e.logger.Debug("error logged", "id", entry.ID)
	return entry, nil
}

// Notes returns notes in section, or every note when section is empty.
func (e *Engine) Notes(ctx context.Context, section string) ([]state.Note, error) {
	st, err := e.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}
	return st.NotesInSection(section), nil
}

// Decisions returns every recorded decision.
func (e *Engine) Decisions(ctx context.Context) ([]state.Decision, error) {
	st, err := e.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading decisions: %w", err)
	}
	return st.Decisions, nil
}

// Errors returns every logged error.
func (e *Engine) Errors(ctx context.Context) ([]state.ErrorLog, error) {
	st, err := e.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading errors: %w", err)
	}
	return st.Errors, nil
}

// Clear resets the workspace to the empty state.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	return nil
}

// History returns up to limit history entries, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*store.HistoryEntry, error) {
	v, ok := e.backend.(store.Versioned)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHistoryUnsupported, e.backend.Name())
	}
	entries, err := v.GetHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return entries, nil
}

// Rollback restores the state recorded at version.
func (e *Engine) Rollback(ctx context.Context, version int64) (*state.AgentState, error) {
	v, ok := e.backend.(store.Versioned)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHistoryUnsupported, e.backend.Name())
	}
	st, err := v.Rollback(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("rolling back to version %d: %w", version, err)
	}
	return st, nil
}
