// ABOUTME: Request handlers for the /api endpoints
// ABOUTME: Decode JSON bodies, call the engine and encode results or errors

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/agentstate/internal/engine"
	"github.com/2389/agentstate/internal/state"
	"github.com/2389/agentstate/internal/store"
)

// CreatePlanRequest is the body of POST /api/plan.
type CreatePlanRequest struct {
	Goal   string   `json:"goal"`
	Phases []string `json:"phases"`
}

// PhaseRequest is the body of the POST /api/phase/* endpoints.
type PhaseRequest struct {
	PhaseName string `json:"phase_name"`
	// Error is the failure reason, used by /api/phase/fail.
	Error string `json:"error,omitempty"`
}

// NoteRequest is the body of POST /api/note.
type NoteRequest struct {
	Content string `json:"content"`
	Section string `json:"section"`
}

// DecisionRequest is the body of POST /api/decision.
type DecisionRequest struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
}

// ErrorRequest is the body of POST /api/error.
type ErrorRequest struct {
	Error      string `json:"error"`
	Resolution string `json:"resolution"`
}

// RollbackRequest is the body of POST /api/rollback.
type RollbackRequest struct {
	Version int64 `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
		"backend": s.engine.Backend().Name(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.engine.Notes(r.Context(), r.URL.Query().Get("section"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, notes)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.engine.Decisions(r.Context())
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := s.engine.Errors(r.Context())
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, errs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.HistoryEntry{}
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Goal == "" {
		s.sendJSONError(w, http.StatusBadRequest, "goal is required")
		return
	}

	plan, err := s.engine.CreatePlan(r.Context(), req.Goal, req.Phases)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleStartPhase(w http.ResponseWriter, r *http.Request) {
	var req PhaseRequest
	if !s.decodePhase(w, r, &req) {
		return
	}
	plan, err := s.engine.StartPhase(r.Context(), req.PhaseName)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCompletePhase(w http.ResponseWriter, r *http.Request) {
	var req PhaseRequest
	if !s.decodePhase(w, r, &req) {
		return
	}
	plan, err := s.engine.CompletePhase(r.Context(), req.PhaseName)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

func (s *Server) handleFailPhase(w http.ResponseWriter, r *http.Request) {
	var req PhaseRequest
	if !s.decodePhase(w, r, &req) {
		return
	}
	plan, err := s.engine.FailPhase(r.Context(), req.PhaseName, req.Error)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	note, err := s.engine.AddNote(r.Context(), req.Content, req.Section)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, note)
}

func (s *Server) handleAddDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.engine.AddDecision(r.Context(), req.Decision, req.Rationale)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, d)
}

func (s *Server) handleLogError(w http.ResponseWriter, r *http.Request) {
	var req ErrorRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.engine.LogError(r.Context(), req.Error, req.Resolution)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Version < 1 {
		s.sendJSONError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	st, err := s.engine.Rollback(r.Context(), req.Version)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(r.Context()); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "State cleared"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) decodePhase(w http.ResponseWriter, r *http.Request, req *PhaseRequest) bool {
	if !s.decode(w, r, req) {
		return false
	}
	if req.PhaseName == "" {
		s.sendJSONError(w, http.StatusBadRequest, "phase_name is required")
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status. Storage failures are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrHistoryUnsupported),
		errors.Is(err, state.ErrEmptyGoal),
		errors.Is(err, state.ErrDuplicatePhase),
		errors.Is(err, state.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNoPlan),
		errors.Is(err, state.ErrPhaseNotFound),
		errors.Is(err, store.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, state.ErrPhaseActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, status, "internal server error")
		return
	}
	s.sendJSONError(w, status, err.Error())
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
