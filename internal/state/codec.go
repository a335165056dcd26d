// ABOUTME: JSON document codec for AgentState with schema_version migration
// ABOUTME: Decoding older payloads runs registered migrators up to CurrentSchemaVersion

package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a payload cannot be decoded into an AgentState.
var ErrMalformed = errors.New("malformed state document")

// migrator upgrades a decoded state from one schema version to the next.
type migrator func(*AgentState)

// migrators is keyed by the version being migrated from.
var migrators = map[int]migrator{
	0: migrateV0,
}

// migrateV0 resets phase statuses that predate the status enum and assigns IDs to
// entries written before entries carried one.
func migrateV0(s *AgentState) {
	if s.Plan != nil {
		for i := range s.Plan.Phases {
			if !s.Plan.Phases[i].Status.Valid() {
				s.Plan.Phases[i].Status = PhasePending
			}
		}
	}
	for i := range s.Notes {
		if s.Notes[i].ID == "" {
			s.Notes[i].ID = uuid.New().String()
		}
	}
	for i := range s.Decisions {
		if s.Decisions[i].ID == "" {
			s.Decisions[i].ID = uuid.New().String()
		}
	}
	for i := range s.Errors {
		if s.Errors[i].ID == "" {
			s.Errors[i].ID = uuid.New().String()
		}
	}
}

// document mirrors AgentState on the wire and also accepts the legacy "version" key.
type document struct {
	AgentState
	LegacyVersion *int `json:"version,omitempty"`
}

// Encode serializes s as an indented JSON document stamped with the current schema version.
func Encode(s *AgentState) ([]byte, error) {
	out := s.Clone()
	out.Normalize()
	out.SchemaVersion = CurrentSchemaVersion
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// Decode parses a JSON document produced by Encode, or by an older loader.
// Documents from newer schema versions are read as-is; unknown fields are ignored.
func Decode(data []byte) (*AgentState, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	s := doc.AgentState
	if s.SchemaVersion == 0 && doc.LegacyVersion != nil {
		s.SchemaVersion = *doc.LegacyVersion
	}

	for s.SchemaVersion < CurrentSchemaVersion {
		m, ok := migrators[s.SchemaVersion]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from schema version %d", ErrMalformed, s.SchemaVersion)
		}
		m(&s)
		s.SchemaVersion++
	}

	if s.SchemaVersion == CurrentSchemaVersion && s.Plan != nil {
		for _, ph := range s.Plan.Phases {
			if !ph.Status.Valid() {
				return nil, fmt.Errorf("%w: phase %q has unknown status %q", ErrMalformed, ph.Name, ph.Status)
			}
		}
	}

	s.Normalize()
	return &s, nil
}
