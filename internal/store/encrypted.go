// ABOUTME: Encrypted flat-file backend: JSON state sealed in a password envelope
// ABOUTME: Shares the atomic file I/O of JSONStorage; the password is never written

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/agentstate/internal/envelope"
	"github.com/2389/agentstate/internal/state"
)

// EncryptedJSONStorage stores the JSON document as an encrypted envelope.
type EncryptedJSONStorage struct {
	guard
	file     stateFile
	codec    *envelope.Codec
	password []byte
}

// NewEncryptedJSONStorage creates an encrypted file backend. A nil codec uses the
// envelope defaults. The backend keeps a private copy of password until Close.
func NewEncryptedJSONStorage(path, password string, codec *envelope.Codec, opts ...Option) (*EncryptedJSONStorage, error) {
	if password == "" {
		return nil, errors.New("encryption password is required")
	}
	if codec == nil {
		var err error
		if codec, err = envelope.New(); err != nil {
			return nil, fmt.Errorf("creating codec: %w", err)
		}
	}

	o := buildOptions(opts)
	s := &EncryptedJSONStorage{
		file:     stateFile{path: path},
		codec:    codec,
		password: []byte(password),
	}
	s.guard.init("encrypted_json", s, o.logger.With("path", path, "cipher", codec.Cipher()))
	return s, nil
}

// Path returns the backing file path.
func (s *EncryptedJSONStorage) Path() string {
	return s.file.path
}

func (s *EncryptedJSONStorage) load(_ context.Context) (*state.AgentState, error) {
	data, ok, err := s.file.read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return state.New(), nil
	}

	plaintext, err := s.codec.Decrypt(data, s.password)
	switch {
	case errors.Is(err, envelope.ErrAuthentication):
		return nil, fmt.Errorf("decrypting %s: %w", s.file.path, err)
	case err != nil:
		return nil, corruptError(s.file.path, err)
	}
	defer clear(plaintext)

	st, err := state.Decode(plaintext)
	if err != nil {
		return nil, corruptError(s.file.path, err)
	}
	return st, nil
}

func (s *EncryptedJSONStorage) save(_ context.Context, st *state.AgentState) (int64, error) {
	plaintext, err := state.Encode(st)
	if err != nil {
		return 0, err
	}
	defer clear(plaintext)

	sealed, err := s.codec.Encrypt(plaintext, s.password)
	if err != nil {
		return 0, fmt.Errorf("encrypting state: %w", err)
	}
	return 0, s.file.write(sealed)
}

func (s *EncryptedJSONStorage) clear(ctx context.Context) (int64, error) {
	return s.save(ctx, state.New())
}

// Close wipes the in-memory password copy.
func (s *EncryptedJSONStorage) Close() error {
	return s.markClosed(func() error {
		clear(s.password)
		s.password = nil
		return nil
	})
}
