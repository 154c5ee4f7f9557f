package protocol

import (
	"testing"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/reconcile"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

func sampleTS(millis int64, node uint64) timestamp.Timestamp {
	return timestamp.Timestamp{Millis: millis, NodeID: node}
}

func TestInitiatorSyncRoundTrip(t *testing.T) {
	msg := InitiatorSync{
		Version:     CurrentVersion,
		OwnerID:     "owner-1",
		ClaimedSize: 42,
		Ranges: []reconcile.Range{
			{Upper: sampleTS(100, 1), Kind: reconcile.KindSkip},
			{Upper: timestamp.Max, Kind: reconcile.KindFingerprint, Fingerprint: fingerprint.Fingerprint{1, 2, 3}},
		},
		Push: []evolu.EncryptedCrdtMessage{
			{Timestamp: sampleTS(5, 1), Ciphertext: []byte("ciphertext")},
		},
	}

	encoded := EncodeInitiatorSync(msg)
	decoded, err := DecodeInitiatorSync(encoded)
	if err != nil {
		t.Fatalf("DecodeInitiatorSync: %v", err)
	}
	if decoded.OwnerID != msg.OwnerID || decoded.ClaimedSize != msg.ClaimedSize {
		t.Fatalf("header mismatch: got %+v", decoded)
	}
	if len(decoded.Ranges) != 2 || decoded.Ranges[1].Kind != reconcile.KindFingerprint {
		t.Fatalf("ranges mismatch: got %+v", decoded.Ranges)
	}
	if len(decoded.Push) != 1 || string(decoded.Push[0].Ciphertext) != "ciphertext" {
		t.Fatalf("push mismatch: got %+v", decoded.Push)
	}
}

func TestResponderSyncRoundTripWithLiteralRange(t *testing.T) {
	msg := ResponderSync{
		Version: CurrentVersion,
		OwnerID: "owner-1",
		Ranges: []reconcile.Range{
			{
				Upper:      timestamp.Max,
				Kind:       reconcile.KindLiteral,
				Timestamps: []timestamp.Timestamp{sampleTS(1, 1), sampleTS(2, 2)},
			},
		},
	}
	encoded := EncodeResponderSync(msg)
	decoded, err := DecodeResponderSync(encoded)
	if err != nil {
		t.Fatalf("DecodeResponderSync: %v", err)
	}
	if len(decoded.Ranges) != 1 || len(decoded.Ranges[0].Timestamps) != 2 {
		t.Fatalf("expected one literal range with 2 timestamps, got %+v", decoded.Ranges)
	}
	if !timestamp.Equal(decoded.Ranges[0].Timestamps[1], sampleTS(2, 2)) {
		t.Fatalf("timestamp mismatch: got %v", decoded.Ranges[0].Timestamps[1])
	}
}

func TestWriteRequestRoundTrip(t *testing.T) {
	msg := WriteRequest{
		Version:  CurrentVersion,
		OwnerID:  "owner-1",
		WriteKey: []byte("0123456789abcdef"),
		Messages: []evolu.EncryptedCrdtMessage{
			{Timestamp: sampleTS(7, 1), Ciphertext: []byte("x")},
		},
	}
	encoded := EncodeWriteRequest(msg)
	decoded, err := DecodeWriteRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeWriteRequest: %v", err)
	}
	if string(decoded.WriteKey) != string(msg.WriteKey) {
		t.Fatalf("write key mismatch")
	}
	if len(decoded.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(decoded.Messages))
	}
}

func TestWriteAckAndRejectRoundTrip(t *testing.T) {
	ack := EncodeWriteAck(WriteAck{Version: CurrentVersion})
	decodedAck, err := DecodeWriteAck(ack)
	if err != nil {
		t.Fatalf("DecodeWriteAck: %v", err)
	}
	if decodedAck.Version != CurrentVersion {
		t.Fatalf("unexpected version: %d", decodedAck.Version)
	}

	reject := EncodeWriteReject(WriteReject{Version: CurrentVersion, Reason: "bad write key"})
	decodedReject, err := DecodeWriteReject(reject)
	if err != nil {
		t.Fatalf("DecodeWriteReject: %v", err)
	}
	if decodedReject.Reason != "bad write key" {
		t.Fatalf("unexpected reason: %q", decodedReject.Reason)
	}
}

func TestPeekTypeDispatches(t *testing.T) {
	encoded := EncodeWriteAck(WriteAck{Version: CurrentVersion})
	version, kind, err := PeekType(encoded)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if version != CurrentVersion || kind != MsgWriteAck {
		t.Fatalf("expected (version=%d, MsgWriteAck), got (%d, %d)", CurrentVersion, version, kind)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	encoded := EncodeWriteAck(WriteAck{Version: CurrentVersion})
	tampered := append([]byte(nil), encoded...)
	tampered[0] = CurrentVersion + 1
	if _, err := DecodeWriteAck(tampered); err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	encoded := EncodeWriteAck(WriteAck{Version: CurrentVersion})
	if _, err := DecodeWriteReject(encoded); err == nil {
		t.Fatalf("expected unknown/wrong tag error when decoding an ack as a reject")
	}
}

func TestDecodeTruncatedFrameFails(t *testing.T) {
	encoded := EncodeWriteRequest(WriteRequest{Version: CurrentVersion, OwnerID: "owner-1", WriteKey: []byte("k")})
	if _, err := DecodeWriteRequest(encoded[:len(encoded)-2]); err == nil {
		t.Fatalf("expected decode of a truncated frame to fail")
	}
}
