// ABOUTME: Flat-file backend storing state as one JSON document
// ABOUTME: Saves replace the file atomically; a missing file loads as the empty state

package store

import (
	"context"

	"github.com/2389/agentstate/internal/state"
)

// stateFileMode keeps state files private to the owning user.
const stateFileMode = 0o600

// stateFile is the file I/O shared by the plaintext and encrypted file backends.
type stateFile struct {
	path string
}

func (f stateFile) read() ([]byte, bool, error) {
	data, ok, err := readFileIfExists(f.path)
	if err != nil {
		return nil, false, ioError("reading "+f.path, err)
	}
	return data, ok, nil
}

func (f stateFile) write(data []byte) error {
	if err := writeFileAtomic(f.path, data, stateFileMode); err != nil {
		return ioError("writing "+f.path, err)
	}
	return nil
}

// JSONStorage persists state as a JSON document at a single path.
type JSONStorage struct {
	guard
	file stateFile
}

// NewJSONStorage creates a file backend. The file is created on first save.
func NewJSONStorage(path string, opts ...Option) *JSONStorage {
	o := buildOptions(opts)
	s := &JSONStorage{file: stateFile{path: path}}
	s.guard.init("json", s, o.logger.With("path", path))
	return s
}

// Path returns the backing file path.
func (s *JSONStorage) Path() string {
	return s.file.path
}

func (s *JSONStorage) load(_ context.Context) (*state.AgentState, error) {
	data, ok, err := s.file.read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return state.New(), nil
	}
	st, err := state.Decode(data)
	if err != nil {
		return nil, corruptError(s.file.path, err)
	}
	return st, nil
}

func (s *JSONStorage) save(_ context.Context, st *state.AgentState) (int64, error) {
	data, err := state.Encode(st)
	if err != nil {
		return 0, err
	}
	return 0, s.file.write(data)
}

func (s *JSONStorage) clear(ctx context.Context) (int64, error) {
	return s.save(ctx, state.New())
}

// Close marks the backend closed. There is no handle held between calls.
func (s *JSONStorage) Close() error {
	return s.markClosed(nil)
}
