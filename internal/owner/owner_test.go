package owner

import (
	"errors"
	"testing"
	"time"

	"github.com/evolu-go/core/pkg/evolu"
)

func TestNewDeterministic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := New(mnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := New(mnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected deterministic owner id from same mnemonic")
	}
	if a.EncryptionKey != b.EncryptionKey || a.WriteKey != b.WriteKey || a.NodeID != b.NodeID {
		t.Fatalf("expected deterministic key/node derivation from same mnemonic")
	}
}

func TestDifferentMnemonicsDifferentOwners(t *testing.T) {
	m1, _ := GenerateMnemonic()
	m2, _ := GenerateMnemonic()
	a, _ := New(m1)
	b, _ := New(m2)
	if a.ID == b.ID {
		t.Fatalf("expected distinct owner ids for distinct mnemonics")
	}
}

func TestInvalidMnemonicRejected(t *testing.T) {
	_, err := New("not a valid mnemonic at all")
	if !errors.Is(err, evolu.ErrBadMnemonic) {
		t.Fatalf("expected ErrBadMnemonic, got %v", err)
	}
}

func TestRestorePreservesCreatedAt(t *testing.T) {
	mnemonic, _ := GenerateMnemonic()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restored, err := Restore(mnemonic, createdAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !restored.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected restored owner to preserve createdAt")
	}
}

func TestOwnerIDLength(t *testing.T) {
	mnemonic, _ := GenerateMnemonic()
	o, _ := New(mnemonic)
	if len(o.ID) != ownerIDLen {
		t.Fatalf("expected owner id of length %d, got %d", ownerIDLen, len(o.ID))
	}
}

func TestResetCallsEraseWithOwnerID(t *testing.T) {
	mnemonic, _ := GenerateMnemonic()
	o, _ := New(mnemonic)
	var gotID string
	err := o.Reset(func(id string) error {
		gotID = id
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != o.ID {
		t.Fatalf("expected erase to be called with owner id %q, got %q", o.ID, gotID)
	}
}
