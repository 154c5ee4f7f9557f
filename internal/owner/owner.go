// Package owner derives a device's identity and keys from a BIP-39 mnemonic
// and bundles them into an Owner (spec §3, §4.2).
//
// Grounded on the teacher's internal/bitcoin.Config/NewClient shape (a
// small immutable config struct built by a constructor that validates its
// inputs up front) for the overall API; BIP-39 itself comes from
// github.com/tyler-smith/go-bip39 (no pack repo implements it — see
// DESIGN.md), and SLIP-21 is five lines of domain-separated HMAC-SHA-512
// directly on stdlib crypto/hmac+crypto/sha512, per spec.md §4.2.
package owner

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tyler-smith/go-bip39"

	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// Domain-separation paths (spec §3).
var (
	pathOwner         = []string{"Evolu", "Owner"}
	pathEncryptionKey = []string{"Evolu", "EncryptionKey"}
	pathWriteKey      = []string{"Evolu", "WriteKey"}
	pathNodeID        = []string{"Evolu", "NodeId"}
)

const (
	ownerIDLen       = 21 // base64url chars
	encryptionKeyLen = 32
	writeKeyLen      = 16
	nodeIDBytes      = 8
)

// Owner is the per-device identity and key bundle derived deterministically
// from a mnemonic (spec §3).
type Owner struct {
	ID            string
	Mnemonic      string
	EncryptionKey [encryptionKeyLen]byte
	WriteKey      [writeKeyLen]byte
	NodeID        uint64
	CreatedAt     time.Time
}

// GenerateMnemonic produces a fresh BIP-39 mnemonic (128 bits of entropy,
// 12 words) suitable for first-time device provisioning.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("%w: %v", evolu.ErrBadMnemonic, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", evolu.ErrBadMnemonic, err)
	}
	return mnemonic, nil
}

// New derives an Owner from a mnemonic. Called once per device on first
// use, or again on Restore to recover an existing identity (spec §3).
func New(mnemonic string) (*Owner, error) {
	return newAt(mnemonic, time.Now())
}

func newAt(mnemonic string, createdAt time.Time) (*Owner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, evolu.ErrBadMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	ownerIDBytes := slip21(seed, pathOwner)
	encKey := slip21(seed, pathEncryptionKey)
	writeKey := slip21(seed, pathWriteKey)
	nodeIDKey := slip21(seed, pathNodeID)

	o := &Owner{
		ID:        base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(ownerIDBytes[:])[:ownerIDLen],
		Mnemonic:  mnemonic,
		NodeID:    beUint64(nodeIDKey[:nodeIDBytes]),
		CreatedAt: createdAt,
	}
	copy(o.EncryptionKey[:], encKey[:encryptionKeyLen])
	copy(o.WriteKey[:], writeKey[:writeKeyLen])
	return o, nil
}

// Restore rederives the same Owner from its mnemonic, reusing createdAt if
// it is known from prior persisted state (spec §3 lifecycle: "restored").
func Restore(mnemonic string, createdAt time.Time) (*Owner, error) {
	return newAt(mnemonic, createdAt)
}

// InitialTimestamp returns this owner's zero-valued HLC timestamp, the seed
// a fresh node's local clock starts from (spec §4.1).
func (o *Owner) InitialTimestamp() timestamp.Timestamp {
	return timestamp.CreateInitial(o.NodeID)
}

// slip21 implements SLIP-21 child key derivation: HMAC-SHA-512 over the
// master node (HMAC-SHA-512("Symmetric key seed", seed)) followed by one
// HMAC-SHA-512 step per path label, each prefixed with 0x00 (SLIP-21 §
// "Private key derivation"). Each 64-byte node splits into a leading 32-byte
// chain-code half and a trailing 32-byte key half; the chain code is the
// HMAC key for deriving the next node. Returns the final child node's
// 32-byte key half.
func slip21(seed []byte, path []string) [32]byte {
	master := hmacSHA512([]byte("Symmetric key seed"), seed)
	node := master
	for _, label := range path {
		chainCode := node[0:32]
		data := append([]byte{0x00}, []byte(label)...)
		node = hmacSHA512(chainCode, data)
	}
	var key [32]byte
	copy(key[:], node[32:64])
	return key
}

func hmacSHA512(key, data []byte) [64]byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	var out [64]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
