// ABOUTME: Task plan construction and phase state transitions
// ABOUTME: Enforces unique phase names and forward-only status changes

package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyGoal is returned when a plan is created without a goal.
	ErrEmptyGoal = errors.New("plan goal is required")

	// ErrDuplicatePhase is returned when two phases in a plan share a name.
	ErrDuplicatePhase = errors.New("duplicate phase name")

	// ErrNoPlan is returned by phase operations when no plan exists.
	ErrNoPlan = errors.New("no active plan")

	// ErrPhaseNotFound is returned when a named phase is not in the plan.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrInvalidTransition is returned when a phase would move backwards.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPhaseActive is returned when single-active-phase is enforced and another
	// phase is already in progress.
	ErrPhaseActive = errors.New("another phase is in progress")
)

// NewPlan builds a plan with every phase pending.
func NewPlan(goal string, phaseNames []string, now time.Time) (*TaskPlan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, ErrEmptyGoal
	}

	seen := make(map[string]bool, len(phaseNames))
	phases := make([]Phase, 0, len(phaseNames))
	for i, name := range phaseNames {
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePhase, name)
		}
		seen[name] = true
		phases = append(phases, Phase{
			Name:        name,
			Description: fmt.Sprintf("Phase %d: %s", i+1, name),
			Status:      PhasePending,
		})
	}

	return &TaskPlan{
		Goal:      goal,
		Phases:    phases,
		Status:    PlanActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the plan's structural invariants.
func (p *TaskPlan) Validate() error {
	if strings.TrimSpace(p.Goal) == "" {
		return ErrEmptyGoal
	}
	if !p.Status.Valid() {
		return fmt.Errorf("plan has unknown status %q", p.Status)
	}
	seen := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if seen[ph.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicatePhase, ph.Name)
		}
		seen[ph.Name] = true
		if !ph.Status.Valid() {
			return fmt.Errorf("phase %q has unknown status %q", ph.Name, ph.Status)
		}
	}
	return nil
}

// Phase returns a pointer to the named phase, or nil.
func (p *TaskPlan) Phase(name string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i]
		}
	}
	return nil
}

// CurrentPhase returns the first in-progress phase, or nil.
func (p *TaskPlan) CurrentPhase() *Phase {
	for i := range p.Phases {
		if p.Phases[i].Status == PhaseInProgress {
			return &p.Phases[i]
		}
	}
	return nil
}

// NextPending returns the first pending phase, or nil.
func (p *TaskPlan) NextPending() *Phase {
	for i := range p.Phases {
		if p.Phases[i].Status == PhasePending {
			return &p.Phases[i]
		}
	}
	return nil
}

// TransitionOptions tunes the phase rules that are left to the caller.
type TransitionOptions struct {
	// SingleActive rejects starting a phase while another is in progress.
	SingleActive bool
	// AutoAdvance starts the next pending phase when one completes.
	AutoAdvance bool
}

// StartPhase moves a pending phase to in_progress. Starting a phase that is
// already in progress is a no-op.
func (p *TaskPlan) StartPhase(name string, now time.Time, opts TransitionOptions) error {
	ph := p.Phase(name)
	if ph == nil {
		return fmt.Errorf("%w: %q", ErrPhaseNotFound, name)
	}
	if ph.Status == PhaseInProgress {
		return nil
	}
	if err := checkForward(ph, PhaseInProgress); err != nil {
		return err
	}
	if opts.SingleActive {
		if cur := p.CurrentPhase(); cur != nil {
			return fmt.Errorf("%w: %q", ErrPhaseActive, cur.Name)
		}
	}

	ph.Status = PhaseInProgress
	if ph.StartedAt == nil {
		t := now
		ph.StartedAt = &t
	}
	p.UpdatedAt = now
	return nil
}

// CompletePhase marks a phase completed. With AutoAdvance the next pending phase is
// started, provided that does not break SingleActive; the started phase is returned.
func (p *TaskPlan) CompletePhase(name string, now time.Time, opts TransitionOptions) (*Phase, error) {
	ph := p.Phase(name)
	if ph == nil {
		return nil, fmt.Errorf("%w: %q", ErrPhaseNotFound, name)
	}
	if err := checkForward(ph, PhaseCompleted); err != nil {
		return nil, err
	}

	t := now
	if ph.StartedAt == nil {
		ph.StartedAt = &t
	}
	ph.Status = PhaseCompleted
	ph.CompletedAt = &t
	p.UpdatedAt = now

	var next *Phase
	if opts.AutoAdvance && (!opts.SingleActive || p.CurrentPhase() == nil) {
		if next = p.NextPending(); next != nil {
			started := now
			next.Status = PhaseInProgress
			next.StartedAt = &started
		}
	}
	p.refreshStatus()
	return next, nil
}

// FailPhase marks a phase failed with a reason. Failed is terminal.
func (p *TaskPlan) FailPhase(name, reason string, now time.Time) error {
	ph := p.Phase(name)
	if ph == nil {
		return fmt.Errorf("%w: %q", ErrPhaseNotFound, name)
	}
	if err := checkForward(ph, PhaseFailed); err != nil {
		return err
	}
	t := now
	ph.Status = PhaseFailed
	ph.CompletedAt = &t
	ph.ErrorMessage = reason
	p.UpdatedAt = now
	return nil
}

func (p *TaskPlan) refreshStatus() {
	if len(p.Phases) == 0 || p.Status == PlanCancelled {
		return
	}
	for _, ph := range p.Phases {
		if ph.Status != PhaseCompleted {
			return
		}
	}
	p.Status = PlanCompleted
}

func checkForward(ph *Phase, to PhaseStatus) error {
	if to.rank() <= ph.Status.rank() {
		return fmt.Errorf("%w: %q is %s, cannot become %s", ErrInvalidTransition, ph.Name, ph.Status, to)
	}
	return nil
}
