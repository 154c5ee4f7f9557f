// Package cryptobox implements the symmetric AEAD envelope CRDT message
// payloads are encrypted under (spec §4.2): XChaCha20-Poly1305 with a fresh
// random 24-byte nonce per message, ciphertext layout nonce ‖ ct ‖ tag.
//
// Grounded on other_examples/AliRezaBeigy-dns-as-doh/internal/crypto/chacha20.go
// for the Cipher struct shape and error taxonomy, adapted from that file's
// HKDF-derived per-direction ChaCha20-Poly1305 (12-byte nonce, counter-based
// replay window) to XChaCha20-Poly1305 (24-byte nonce, random, no sequence
// counter) since there is no bidirectional handshake here to number
// messages against — every CRDT message is independently encrypted and
// identified by its own HLC timestamp instead.
package cryptobox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/evolu-go/core/pkg/evolu"
)

// KeySize is the XChaCha20-Poly1305 key size in bytes (spec §3 Owner.encryption_key).
const KeySize = chacha20poly1305.KeySize // 32

// Box encrypts and decrypts CRDT message payloads under one owner's
// encryption key.
type Box struct {
	aead  cipherAEAD
	valid bool
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New constructs a Box from a 32-byte encryption key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", evolu.ErrBadKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrBadKey, err)
	}
	return &Box{aead: aead, valid: true}, nil
}

// Seal encrypts plaintext with a fresh random nonce, returning
// nonce ‖ ciphertext ‖ tag.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	if !b.valid {
		return nil, evolu.ErrBadKey
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+b.aead.Overhead())
	out = append(out, nonce...)
	out = b.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open decrypts a nonce ‖ ciphertext ‖ tag envelope. A failure here (bad key,
// tampered ciphertext, truncated envelope) is reported as ErrDecryptFailed
// and recorded per-message by callers; it never aborts the wider sync
// session (spec §7).
func (b *Box) Open(envelope []byte) ([]byte, error) {
	if !b.valid {
		return nil, evolu.ErrBadKey
	}
	n := b.aead.NonceSize()
	if len(envelope) < n+b.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", evolu.ErrDecryptFailed)
	}
	nonce, ciphertext := envelope[:n], envelope[n:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrDecryptFailed, err)
	}
	return plaintext, nil
}
