// ABOUTME: Package documentation for the engine package
// ABOUTME: Explains how plan and entry operations map onto a storage backend

// Package engine implements the agent-facing operations on top of a store.Backend.
//
// Every mutating call runs as a single Backend.Update, so a plan transition and
// the save that persists it cannot interleave with another caller of the same
// backend. Phase rules (single active phase, auto-advance on completion) are
// configured per Engine through Options.
//
// History and rollback are only available when the backend implements
// store.Versioned; other backends return ErrHistoryUnsupported.
package engine
