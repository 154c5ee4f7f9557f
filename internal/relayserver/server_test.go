package relayserver

import (
	"context"
	"errors"
	"testing"

	"github.com/evolu-go/core/internal/auth"
	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/protocol"
	"github.com/evolu-go/core/internal/reconcile"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

func openTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store, auth.NewWriteKeyAuthProvider(nil))
}

func ts(millis int64, node uint64) timestamp.Timestamp {
	return timestamp.Timestamp{Millis: millis, NodeID: node}
}

func TestWriteRequestFirstWriteProvisions(t *testing.T) {
	srv := openTestServer(t)
	ctx := context.Background()

	req := protocol.WriteRequest{
		Version:  protocol.CurrentVersion,
		OwnerID:  "owner-1",
		WriteKey: []byte("0123456789abcdef"),
		Messages: []evolu.EncryptedCrdtMessage{{Timestamp: ts(10, 1), Ciphertext: []byte("ct1")}},
	}
	resp, err := srv.HandleFrame(ctx, protocol.EncodeWriteRequest(req))
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if _, err := protocol.DecodeWriteAck(resp); err != nil {
		t.Fatalf("expected WriteAck on first write, got decode error: %v", err)
	}

	stored, err := srv.store.WriteKeyFor(ctx, "owner-1")
	if err != nil {
		t.Fatalf("WriteKeyFor: %v", err)
	}
	if string(stored) != string(req.WriteKey) {
		t.Fatalf("expected provisioned write key to match first write, got %q", stored)
	}
}

func TestWriteRequestRejectsMismatchedKey(t *testing.T) {
	srv := openTestServer(t)
	ctx := context.Background()

	first := protocol.WriteRequest{
		Version:  protocol.CurrentVersion,
		OwnerID:  "owner-1",
		WriteKey: []byte("correct-key-bytes"),
		Messages: []evolu.EncryptedCrdtMessage{{Timestamp: ts(1, 1), Ciphertext: []byte("a")}},
	}
	if _, err := srv.HandleFrame(ctx, protocol.EncodeWriteRequest(first)); err != nil {
		t.Fatalf("first write: %v", err)
	}

	second := protocol.WriteRequest{
		Version:  protocol.CurrentVersion,
		OwnerID:  "owner-1",
		WriteKey: []byte("wrong-key-bytes!!"),
		Messages: []evolu.EncryptedCrdtMessage{{Timestamp: ts(2, 1), Ciphertext: []byte("b")}},
	}
	resp, err := srv.HandleFrame(ctx, protocol.EncodeWriteRequest(second))
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	reject, err := protocol.DecodeWriteReject(resp)
	if err != nil {
		t.Fatalf("expected WriteReject, got decode error: %v", err)
	}
	if reject.Reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}

	msgs, err := srv.store.MessagesAt(ctx, "owner-1", []timestamp.Timestamp{ts(2, 1)})
	if err != nil {
		t.Fatalf("MessagesAt: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected write must not be persisted, found %d messages", len(msgs))
	}
}

func TestInitiatorSyncConvergesWhenRelayHasMore(t *testing.T) {
	srv := openTestServer(t)
	ctx := context.Background()

	seed := protocol.WriteRequest{
		Version:  protocol.CurrentVersion,
		OwnerID:  "owner-1",
		WriteKey: []byte("key-bytes-here!!"),
		Messages: []evolu.EncryptedCrdtMessage{
			{Timestamp: ts(100, 1), Ciphertext: []byte("seed-a")},
			{Timestamp: ts(200, 1), Ciphertext: []byte("seed-b")},
		},
	}
	if _, err := srv.HandleFrame(ctx, protocol.EncodeWriteRequest(seed)); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	// An empty-set fingerprint claim for the whole range: the relay's
	// actual fingerprint won't match an empty set's (fingerprint.Zero), so
	// it resolves the mismatch as a literal exchange (spec §4.4 step 2).
	initiator := protocol.InitiatorSync{
		Version:     protocol.CurrentVersion,
		OwnerID:     "owner-1",
		ClaimedSize: 0,
		Ranges: []reconcile.Range{
			{Upper: timestamp.Max, Kind: reconcile.KindFingerprint, Fingerprint: fingerprint.Zero},
		},
	}
	resp, err := srv.HandleFrame(ctx, protocol.EncodeInitiatorSync(initiator))
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	responderSync, err := protocol.DecodeResponderSync(resp)
	if err != nil {
		t.Fatalf("DecodeResponderSync: %v", err)
	}
	if len(responderSync.Push) != 2 {
		t.Fatalf("expected relay to proactively push both messages it has, got %d", len(responderSync.Push))
	}
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	srv := openTestServer(t)
	ack := protocol.EncodeWriteAck(protocol.WriteAck{Version: protocol.CurrentVersion})
	_, err := srv.HandleFrame(context.Background(), ack)
	if !errors.Is(err, evolu.ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag for a relay-bound WriteAck, got %v", err)
	}
}
