// ABOUTME: Status report summarizing plan progress and entry counts
// ABOUTME: Mirrors what the CLI status command and GET /api/status return

package engine

import (
	"context"
	"fmt"

	"github.com/2389/agentstate/internal/state"
)

// Status is a point-in-time summary of the agent state.
type Status struct {
	HasPlan        bool            `json:"has_plan"`
	Plan           *state.TaskPlan `json:"plan"`
	CurrentPhase   string          `json:"current_phase,omitempty"`
	Progress       float64         `json:"progress"`
	NotesCount     int             `json:"notes_count"`
	DecisionsCount int             `json:"decisions_count"`
	ErrorsCount    int             `json:"errors_count"`
	SchemaVersion  int             `json:"schema_version"`
	Backend        string          `json:"backend"`
}

// Status summarizes the current state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st, err := e.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading status: %w", err)
	}
	return summarize(st, e.backend.Name()), nil
}

func summarize(st *state.AgentState, backend string) *Status {
	s := &Status{
		HasPlan:        st.Plan != nil,
		Plan:           st.Plan,
		Progress:       st.Progress(),
		NotesCount:     len(st.Notes),
		DecisionsCount: len(st.Decisions),
		ErrorsCount:    len(st.Errors),
		SchemaVersion:  st.SchemaVersion,
		Backend:        backend,
	}
	if st.Plan != nil {
		if cur := st.Plan.CurrentPhase(); cur != nil {
			s.CurrentPhase = cur.Name
		}
	}
	return s
}
