// Package protocol implements the wire-format message builder/parser for
// sync sessions between a device and a relay: InitiatorSync, ResponderSync,
// WriteRequest, WriteAck, WriteReject, built directly on internal/codec,
// internal/timestamp, internal/fingerprint, and internal/reconcile (spec
// §4.5).
//
// Grounded on the teacher's internal/api/routes.go organization — one
// function per message/handler kind, operating on a shared codec instead of
// JSON — translated from HTTP request/response bodies to binary frame
// encode/decode pairs.
package protocol

import (
	"fmt"

	"github.com/evolu-go/core/internal/codec"
	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/reconcile"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// CurrentVersion is the only protocol version this package emits or accepts
// today (spec §4.5, §6: "Protocol version byte starts at 0").
const CurrentVersion byte = 0

// MessageType tags which of the five message kinds a frame carries.
type MessageType byte

const (
	MsgInitiatorSync MessageType = iota
	MsgResponderSync
	MsgWriteRequest
	MsgWriteAck
	MsgWriteReject
)

// InitiatorSync opens a sync round: the device's claimed history size, its
// top-level range partition, and any pending local writes to push alongside
// the sync handshake (spec §4.5.1).
type InitiatorSync struct {
	Version     byte
	OwnerID     string
	ClaimedSize uint64
	Ranges      []reconcile.Range
	Push        []evolu.EncryptedCrdtMessage
}

// ResponderSync answers an InitiatorSync (or a prior ResponderSync) with
// refined ranges and any messages the responder wants to push back (spec
// §4.5.2).
type ResponderSync struct {
	Version byte
	OwnerID string
	Ranges  []reconcile.Range
	Push    []evolu.EncryptedCrdtMessage
}

// WriteRequest asks the relay to persist messages under a write key proof
// (spec §4.5.3).
type WriteRequest struct {
	Version  byte
	OwnerID  string
	WriteKey []byte
	Messages []evolu.EncryptedCrdtMessage
}

// WriteAck confirms a WriteRequest was persisted (spec §4.5.4).
type WriteAck struct {
	Version byte
}

// WriteReject reports why a WriteRequest was refused (spec §4.5.4).
type WriteReject struct {
	Version byte
	Reason  string
}

// PeekType reads a frame's version and message type without otherwise
// decoding it, so a transport loop can dispatch to the right decoder.
func PeekType(b []byte) (byte, MessageType, error) {
	if len(b) < 2 {
		return 0, 0, fmt.Errorf("%w: frame too short to carry version+type", evolu.ErrMalformedFrame)
	}
	return b[0], MessageType(b[1]), nil
}

func checkVersion(v byte) error {
	if v != CurrentVersion {
		return fmt.Errorf("%w: got %d, want %d", evolu.ErrVersionMismatch, v, CurrentVersion)
	}
	return nil
}

func EncodeInitiatorSync(m InitiatorSync) []byte {
	w := codec.NewWriter()
	w.Byte(m.Version)
	w.Byte(byte(MsgInitiatorSync))
	w.String(m.OwnerID)
	w.Uvarint(m.ClaimedSize)
	encodeRanges(w, m.Ranges)
	encodeEncryptedMessages(w, m.Push)
	return w.Bytes()
}

func DecodeInitiatorSync(b []byte) (InitiatorSync, error) {
	r := codec.NewReader(b)
	version, tag, err := readHeader(r, MsgInitiatorSync)
	if err != nil {
		return InitiatorSync{}, err
	}
	_ = tag
	ownerID, err := r.String()
	if err != nil {
		return InitiatorSync{}, err
	}
	claimedSize, err := r.Uvarint()
	if err != nil {
		return InitiatorSync{}, err
	}
	ranges, err := decodeRanges(r)
	if err != nil {
		return InitiatorSync{}, err
	}
	push, err := decodeEncryptedMessages(r)
	if err != nil {
		return InitiatorSync{}, err
	}
	return InitiatorSync{Version: version, OwnerID: ownerID, ClaimedSize: claimedSize, Ranges: ranges, Push: push}, nil
}

func EncodeResponderSync(m ResponderSync) []byte {
	w := codec.NewWriter()
	w.Byte(m.Version)
	w.Byte(byte(MsgResponderSync))
	w.String(m.OwnerID)
	encodeRanges(w, m.Ranges)
	encodeEncryptedMessages(w, m.Push)
	return w.Bytes()
}

func DecodeResponderSync(b []byte) (ResponderSync, error) {
	r := codec.NewReader(b)
	version, _, err := readHeader(r, MsgResponderSync)
	if err != nil {
		return ResponderSync{}, err
	}
	ownerID, err := r.String()
	if err != nil {
		return ResponderSync{}, err
	}
	ranges, err := decodeRanges(r)
	if err != nil {
		return ResponderSync{}, err
	}
	push, err := decodeEncryptedMessages(r)
	if err != nil {
		return ResponderSync{}, err
	}
	return ResponderSync{Version: version, OwnerID: ownerID, Ranges: ranges, Push: push}, nil
}

func EncodeWriteRequest(m WriteRequest) []byte {
	w := codec.NewWriter()
	w.Byte(m.Version)
	w.Byte(byte(MsgWriteRequest))
	w.String(m.OwnerID)
	w.BytesField(m.WriteKey)
	encodeEncryptedMessages(w, m.Messages)
	return w.Bytes()
}

func DecodeWriteRequest(b []byte) (WriteRequest, error) {
	r := codec.NewReader(b)
	version, _, err := readHeader(r, MsgWriteRequest)
	if err != nil {
		return WriteRequest{}, err
	}
	ownerID, err := r.String()
	if err != nil {
		return WriteRequest{}, err
	}
	writeKey, err := r.BytesFieldChecked()
	if err != nil {
		return WriteRequest{}, err
	}
	msgs, err := decodeEncryptedMessages(r)
	if err != nil {
		return WriteRequest{}, err
	}
	return WriteRequest{Version: version, OwnerID: ownerID, WriteKey: writeKey, Messages: msgs}, nil
}

func EncodeWriteAck(m WriteAck) []byte {
	w := codec.NewWriter()
	w.Byte(m.Version)
	w.Byte(byte(MsgWriteAck))
	return w.Bytes()
}

func DecodeWriteAck(b []byte) (WriteAck, error) {
	r := codec.NewReader(b)
	version, _, err := readHeader(r, MsgWriteAck)
	if err != nil {
		return WriteAck{}, err
	}
	return WriteAck{Version: version}, nil
}

func EncodeWriteReject(m WriteReject) []byte {
	w := codec.NewWriter()
	w.Byte(m.Version)
	w.Byte(byte(MsgWriteReject))
	w.String(m.Reason)
	return w.Bytes()
}

func DecodeWriteReject(b []byte) (WriteReject, error) {
	r := codec.NewReader(b)
	version, _, err := readHeader(r, MsgWriteReject)
	if err != nil {
		return WriteReject{}, err
	}
	reason, err := r.String()
	if err != nil {
		return WriteReject{}, err
	}
	return WriteReject{Version: version, Reason: reason}, nil
}

func readHeader(r *codec.Reader, want MessageType) (byte, MessageType, error) {
	version, err := r.Byte()
	if err != nil {
		return 0, 0, err
	}
	if err := checkVersion(version); err != nil {
		return 0, 0, err
	}
	tagByte, err := r.Byte()
	if err != nil {
		return 0, 0, err
	}
	got := MessageType(tagByte)
	if got != want {
		return 0, 0, fmt.Errorf("%w: expected message type %d, got %d", evolu.ErrUnknownTag, want, got)
	}
	return version, got, nil
}

func encodeRanges(w *codec.Writer, ranges []reconcile.Range) {
	w.Uvarint(uint64(len(ranges)))
	for _, rng := range ranges {
		w.Byte(byte(rng.Kind))
		upper := timestamp.Encode(rng.Upper)
		w.RawBytes(upper[:])
		switch rng.Kind {
		case reconcile.KindFingerprint:
			w.RawBytes(rng.Fingerprint[:])
		case reconcile.KindLiteral:
			w.Uvarint(uint64(len(rng.Timestamps)))
			for _, t := range rng.Timestamps {
				enc := timestamp.Encode(t)
				w.RawBytes(enc[:])
			}
		}
	}
}

func decodeRanges(r *codec.Reader) ([]reconcile.Range, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	ranges := make([]reconcile.Range, 0, n)
	for i := uint64(0); i < n; i++ {
		tagByte, err := r.Byte()
		if err != nil {
			return nil, err
		}
		kind := reconcile.RangeKind(tagByte)

		upperBytes, err := r.RawBytes(timestamp.Size)
		if err != nil {
			return nil, err
		}
		upper, err := timestamp.Decode(upperBytes)
		if err != nil {
			return nil, err
		}

		rng := reconcile.Range{Upper: upper, Kind: kind}
		switch kind {
		case reconcile.KindSkip:
			// no payload
		case reconcile.KindFingerprint:
			fp, err := r.RawBytes(fingerprint.Size)
			if err != nil {
				return nil, err
			}
			copy(rng.Fingerprint[:], fp)
		case reconcile.KindLiteral:
			count, err := r.Uvarint()
			if err != nil {
				return nil, err
			}
			rng.Timestamps = make([]timestamp.Timestamp, 0, count)
			for j := uint64(0); j < count; j++ {
				tb, err := r.RawBytes(timestamp.Size)
				if err != nil {
					return nil, err
				}
				t, err := timestamp.Decode(tb)
				if err != nil {
					return nil, err
				}
				rng.Timestamps = append(rng.Timestamps, t)
			}
		default:
			return nil, fmt.Errorf("%w: range kind %d", evolu.ErrUnknownTag, tagByte)
		}
		ranges = append(ranges, rng)
	}
	return ranges, nil
}

func encodeEncryptedMessages(w *codec.Writer, msgs []evolu.EncryptedCrdtMessage) {
	w.Uvarint(uint64(len(msgs)))
	for _, m := range msgs {
		enc := timestamp.Encode(m.Timestamp)
		w.RawBytes(enc[:])
		w.BytesField(m.Ciphertext)
	}
}

func decodeEncryptedMessages(r *codec.Reader) ([]evolu.EncryptedCrdtMessage, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	out := make([]evolu.EncryptedCrdtMessage, 0, n)
	for i := uint64(0); i < n; i++ {
		tsBytes, err := r.RawBytes(timestamp.Size)
		if err != nil {
			return nil, err
		}
		ts, err := timestamp.Decode(tsBytes)
		if err != nil {
			return nil, err
		}
		ct, err := r.BytesFieldChecked()
		if err != nil {
			return nil, err
		}
		out = append(out, evolu.EncryptedCrdtMessage{Timestamp: ts, Ciphertext: ct})
	}
	return out, nil
}
