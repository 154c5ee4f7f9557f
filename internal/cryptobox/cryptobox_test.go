package cryptobox

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/evolu-go/core/pkg/evolu"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(randomKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plaintext := []byte(`{"table":"todo","row":"1","column":"title","value":"a"}`)
	envelope, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := box.Open(envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	box, _ := New(randomKey(t))
	envelope, _ := box.Seal([]byte("hello"))
	envelope[len(envelope)-1] ^= 0xFF
	if _, err := box.Open(envelope); !errors.Is(err, evolu.ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestNoncesAreFreshPerMessage(t *testing.T) {
	box, _ := New(randomKey(t))
	a, _ := box.Seal([]byte("same plaintext"))
	b, _ := box.Seal([]byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct envelopes for repeated encryption of identical plaintext")
	}
}

func TestBadKeySize(t *testing.T) {
	if _, err := New([]byte("too-short")); !errors.Is(err, evolu.ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
}
