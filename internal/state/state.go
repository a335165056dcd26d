// ABOUTME: Canonical in-memory model of an agent's working state
// ABOUTME: Defines AgentState, TaskPlan, Phase, Note, Decision and ErrorLog

package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is the schema_version written by this build.
const CurrentSchemaVersion = 1

// PhaseStatus is the lifecycle position of a phase.
type PhaseStatus string

// Phase statuses. Transitions only move forward: pending -> in_progress -> completed,
// with failed as an alternative terminal state.
const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// Valid reports whether s is a known phase status.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhasePending, PhaseInProgress, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// rank orders statuses for the forward-only rule.
func (s PhaseStatus) rank() int {
	switch s {
	case PhaseInProgress:
		return 1
	case PhaseCompleted, PhaseFailed:
		return 2
	default:
		return 0
	}
}

// PlanStatus is the overall status of a plan.
type PlanStatus string

// Plan statuses.
const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanCompleted, PlanCancelled:
		return true
	}
	return false
}

// Phase is a named step of a TaskPlan.
type Phase struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Status       PhaseStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// TaskPlan is a goal broken down into ordered phases.
type TaskPlan struct {
	Goal      string     `json:"goal"`
	Phases    []Phase    `json:"phases"`
	Status    PlanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Note is a free-form, optionally sectioned note.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Section   string    `json:"section,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision records a choice and why it was made.
type Decision struct {
	ID        string    `json:"id"`
	Decision  string    `json:"decision"`
	Rationale string    `json:"rationale"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorLog records an error and, optionally, how it was resolved.
type ErrorLog struct {
	ID         string    `json:"id"`
	Error      string    `json:"error"`
	Resolution string    `json:"resolution,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AgentState is the full persisted state of one workspace.
type AgentState struct {
	Plan          *TaskPlan  `json:"plan"`
	Notes         []Note     `json:"notes"`
	Decisions     []Decision `json:"decisions"`
	Errors        []ErrorLog `json:"errors"`
	SchemaVersion int        `json:"schema_version"`
}

// New returns the empty default state.
func New() *AgentState {
	return &AgentState{
		Notes:         []Note{},
		Decisions:     []Decision{},
		Errors:        []ErrorLog{},
		SchemaVersion: CurrentSchemaVersion,
	}
}

// Now returns the current time in the form every timestamp in the model uses:
// UTC with the monotonic reading stripped, so values survive a round trip.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// IsEmpty reports whether the state carries no plan and no entries.
func (s *AgentState) IsEmpty() bool {
	return s.Plan == nil && len(s.Notes) == 0 && len(s.Decisions) == 0 && len(s.Errors) == 0
}

// Clone returns a deep copy of s. Callers mutating the copy never affect s.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	out := &AgentState{
		Notes:         append([]Note{}, s.Notes...),
		Decisions:     append([]Decision{}, s.Decisions...),
		Errors:        append([]ErrorLog{}, s.Errors...),
		SchemaVersion: s.SchemaVersion,
	}
	if s.Plan != nil {
		p := *s.Plan
		p.Phases = make([]Phase, len(s.Plan.Phases))
		for i, ph := range s.Plan.Phases {
			p.Phases[i] = ph
			p.Phases[i].StartedAt = cloneTime(ph.StartedAt)
			p.Phases[i].CompletedAt = cloneTime(ph.CompletedAt)
		}
		out.Plan = &p
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Progress is completed phases over total phases, as a percentage.
// It is 0 when there is no plan or the plan has no phases.
func (s *AgentState) Progress() float64 {
	if s.Plan == nil || len(s.Plan.Phases) == 0 {
		return 0
	}
	completed := 0
	for _, p := range s.Plan.Phases {
		if p.Status == PhaseCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(s.Plan.Phases)) * 100
}

// NotesInSection returns notes whose section matches. An empty section returns all notes.
func (s *AgentState) NotesInSection(section string) []Note {
	if section == "" {
		return append([]Note{}, s.Notes...)
	}
	out := []Note{}
	for _, n := range s.Notes {
		if n.Section == section {
			out = append(out, n)
		}
	}
	return out
}

// AddNote appends a note and returns it.
func (s *AgentState) AddNote(content, section string) Note {
	n := Note{
		ID:        uuid.New().String(),
		Content:   content,
		Section:   section,
		CreatedAt: Now(),
	}
	s.Notes = append(s.Notes, n)
	return n
}

// AddDecision appends a decision and returns it.
func (s *AgentState) AddDecision(decision, rationale string) Decision {
	d := Decision{
		ID:        uuid.New().String(),
		Decision:  decision,
		Rationale: rationale,
		CreatedAt: Now(),
	}
	s.Decisions = append(s.Decisions, d)
	return d
}

// LogError appends an error log and returns it.
func (s *AgentState) LogError(msg, resolution string) ErrorLog {
	e := ErrorLog{
		ID:         uuid.New().String(),
		Error:      msg,
		Resolution: resolution,
		CreatedAt:  Now(),
	}
	s.Errors = append(s.Errors, e)
	return e
}

// Normalize replaces nil collections with empty ones and moves every timestamp to UTC
// so equal states compare equal regardless of how they were decoded or assembled.
func (s *AgentState) Normalize() {
	if s.Notes == nil {
		s.Notes = []Note{}
	}
	if s.Decisions == nil {
		s.Decisions = []Decision{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorLog{}
	}
	if s.Plan != nil {
		if s.Plan.Phases == nil {
			s.Plan.Phases = []Phase{}
		}
		if s.Plan.Status == "" {
			s.Plan.Status = PlanActive
		}
		s.Plan.CreatedAt = utc(s.Plan.CreatedAt)
		s.Plan.UpdatedAt = utc(s.Plan.UpdatedAt)
		for i := range s.Plan.Phases {
			ph := &s.Plan.Phases[i]
			ph.StartedAt = utcPtr(ph.StartedAt)
			ph.CompletedAt = utcPtr(ph.CompletedAt)
		}
	}
	for i := range s.Notes {
		s.Notes[i].CreatedAt = utc(s.Notes[i].CreatedAt)
	}
	for i := range s.Decisions {
		s.Decisions[i].CreatedAt = utc(s.Decisions[i].CreatedAt)
	}
	for i := range s.Errors {
		s.Errors[i].CreatedAt = utc(s.Errors[i].CreatedAt)
	}
}

func utc(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

// ErrInvalidState is returned by Validate when a state breaks a structural invariant.
var ErrInvalidState = errors.New("invalid state")

// Validate checks the invariants every backend relies on: a well-formed plan with known
// statuses and unique, non-empty entry IDs.
func (s *AgentState) Validate() error {
	if s.Plan != nil {
		if err := s.Plan.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
	}
	ids := make(map[string]bool, len(s.Notes)+len(s.Decisions)+len(s.Errors))
	check := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidState, kind)
		}
		if ids[kind+":"+id] {
			return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidState, kind, id)
		}
		ids[kind+":"+id] = true
		return nil
	}
	for _, n := range s.Notes {
		if err := check("note", n.ID); err != nil {
			return err
		}
	}
	for _, d := range s.Decisions {
		if err := check("decision", d.ID); err != nil {
			return err
		}
	}
	for _, e := range s.Errors {
		if err := check("error", e.ID); err != nil {
			return err
		}
	}
	return nil
}
