// ABOUTME: Volatile backend that holds state only in process memory
// ABOUTME: Used for tests and ephemeral sessions; nothing survives a restart

package store

import (
	"context"

	"github.com/2389/agentstate/internal/state"
)

// MemoryStorage keeps a private copy of the last saved state.
type MemoryStorage struct {
	guard
	current *state.AgentState
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	o := buildOptions(opts)
	m := &MemoryStorage{}
	m.guard.init("memory", m, o.logger)
	return m
}

func (m *MemoryStorage) load(_ context.Context) (*state.AgentState, error) {
	if m.current == nil {
		return state.New(), nil
	}
	return m.current.Clone(), nil
}

func (m *MemoryStorage) save(_ context.Context, st *state.AgentState) (int64, error) {
	m.current = st.Clone()
	return 0, nil
}

func (m *MemoryStorage) clear(_ context.Context) (int64, error) {
	m.current = nil
	return 0, nil
}

// Close releases the held state.
func (m *MemoryStorage) Close() error {
	return m.markClosed(func() error {
		m.current = nil
		return nil
	})
}
