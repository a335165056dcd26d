// ABOUTME: Password-based authenticated encryption for state payloads
// ABOUTME: PBKDF2-SHA256 key derivation with AES-256-GCM or XChaCha20-Poly1305

package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrAuthentication is returned when the integrity tag does not verify:
	// the password is wrong or the envelope was tampered with.
	ErrAuthentication = errors.New("envelope authentication failed")

	// ErrMalformed is returned when the envelope framing itself cannot be parsed.
	ErrMalformed = errors.New("malformed envelope")
)

// Cipher names an AEAD construction.
type Cipher string

// Supported ciphers.
const (
	AES256GCM         Cipher = "aes-256-gcm"
	XChaCha20Poly1305 Cipher = "xchacha20-poly1305"
)

const (
	// DefaultIterations is the PBKDF2 work factor for new envelopes.
	DefaultIterations = 480000

	// maxIterations bounds the work factor accepted from an envelope header.
	maxIterations = 10_000_000

	saltSize = 16
	keySize  = 32

	formatVersion byte = 1
)

var magic = [4]byte{'A', 'S', 'E', 'V'}

var cipherIDs = map[Cipher]byte{
	AES256GCM:         1,
	XChaCha20Poly1305: 2,
}

// Codec encrypts and decrypts payloads with a password.
type Codec struct {
	cipher     Cipher
	iterations int
}

// Option configures a Codec.
type Option func(*Codec)

// WithCipher selects the AEAD used for new envelopes.
func WithCipher(c Cipher) Option {
	return func(codec *Codec) { codec.cipher = c }
}

// WithIterations overrides the PBKDF2 iteration count used for new envelopes.
func WithIterations(n int) Option {
	return func(codec *Codec) { codec.iterations = n }
}

// New creates a Codec. Envelopes record their own cipher and work factor, so a
// Codec can decrypt anything any Codec produced.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{
		cipher:     AES256GCM,
		iterations: DefaultIterations,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := cipherIDs[c.cipher]; !ok {
		return nil, fmt.Errorf("unsupported cipher %q", c.cipher)
	}
	if c.iterations < 1 || c.iterations > maxIterations {
		return nil, fmt.Errorf("iterations must be between 1 and %d, got %d", maxIterations, c.iterations)
	}
	return c, nil
}

// Cipher reports the cipher used for new envelopes.
func (c *Codec) Cipher() Cipher {
	return c.cipher
}

// Encrypt seals plaintext under a key derived from password and a fresh random salt.
func (c *Codec) Encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key := deriveKey(password, salt, c.iterations)
	defer clear(key)

	aead, err := newAEAD(c.cipher, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	h := header{
		cipher:     c.cipher,
		iterations: uint32(c.iterations),
		salt:       salt,
		nonce:      nonce,
	}
	ad := h.marshal()
	// The header is authenticated as associated data so its fields cannot be swapped.
	out := make([]byte, len(ad), len(ad)+len(plaintext)+aead.Overhead())
	copy(out, ad)
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// Decrypt verifies and opens an envelope. On any authentication failure it returns
// ErrAuthentication and no plaintext.
func (c *Codec) Decrypt(envelope, password []byte) ([]byte, error) {
	h, n, err := parseHeader(envelope)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, h.salt, int(h.iterations))
	defer clear(key)

	aead, err := newAEAD(h.cipher, key)
	if err != nil {
		return nil, err
	}
	if len(h.nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce size %d", ErrMalformed, len(h.nonce))
	}
	if len(envelope)-n < aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformed)
	}

	plaintext, err := aead.Open(nil, h.nonce, envelope[n:], envelope[:n])
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func deriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	switch c {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating aes cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating gcm: %w", err)
		}
		return aead, nil
	case XChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("creating xchacha20-poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported cipher %q", c)
	}
}

// header is the self-describing prefix of an envelope:
//
//	magic(4) | version(1) | cipher(1) | iterations(4, big endian) |
//	salt_len(1) | salt | nonce_len(1) | nonce
//
// followed by ciphertext with the AEAD tag appended.
type header struct {
	cipher     Cipher
	iterations uint32
	salt       []byte
	nonce      []byte
}

func (h header) marshal() []byte {
	buf := make([]byte, 0, 4+1+1+4+1+len(h.salt)+1+len(h.nonce))
	buf = append(buf, magic[:]...)
	buf = append(buf, formatVersion, cipherIDs[h.cipher])
	buf = binary.BigEndian.AppendUint32(buf, h.iterations)
	buf = append(buf, byte(len(h.salt)))
	buf = append(buf, h.salt...)
	buf = append(buf, byte(len(h.nonce)))
	buf = append(buf, h.nonce...)
	return buf
}

// parseHeader returns the header and the offset at which the ciphertext begins.
func parseHeader(b []byte) (header, int, error) {
	var h header
	const fixed = 4 + 1 + 1 + 4
	if len(b) < fixed+1 {
		return h, 0, fmt.Errorf("%w: too short", ErrMalformed)
	}
	if [4]byte(b[:4]) != magic {
		return h, 0, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if b[4] != formatVersion {
		return h, 0, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, b[4])
	}

	found := false
	for c, id := range cipherIDs {
		if id == b[5] {
			h.cipher = c
			found = true
			break
		}
	}
	if !found {
		return h, 0, fmt.Errorf("%w: unknown cipher id %d", ErrMalformed, b[5])
	}

	h.iterations = binary.BigEndian.Uint32(b[6:10])
	if h.iterations < 1 || h.iterations > maxIterations {
		return h, 0, fmt.Errorf("%w: iteration count %d out of range", ErrMalformed, h.iterations)
	}

	off := fixed
	saltLen := int(b[off])
	off++
	if saltLen == 0 || len(b) < off+saltLen+1 {
		return h, 0, fmt.Errorf("%w: truncated salt", ErrMalformed)
	}
	h.salt = b[off : off+saltLen]
	off += saltLen

	nonceLen := int(b[off])
	off++
	if nonceLen == 0 || len(b) < off+nonceLen {
		return h, 0, fmt.Errorf("%w: truncated nonce", ErrMalformed)
	}
	h.nonce = b[off : off+nonceLen]
	off += nonceLen

	return h, off, nil
}
