package relayserver

import (
	"context"
	"fmt"
	"time"

	"github.com/evolu-go/core/internal/auth"
	"github.com/evolu-go/core/internal/protocol"
	"github.com/evolu-go/core/internal/reconcile"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// Server dispatches decoded protocol frames against a Store; it holds no
// per-connection state, matching the spec's "stateless per-owner
// reconciliation" relay model (spec §4.5). The transport (websocket.go)
// is a thin read/HandleFrame/write loop around it, the same separation the
// teacher keeps between internal/api's handler functions and its Hub.
type Server struct {
	store    *Store
	authProv auth.Provider
}

func NewServer(store *Store, authProv auth.Provider) *Server {
	return &Server{store: store, authProv: authProv}
}

// HandleFrame decodes one incoming frame and returns the encoded response
// frame to send back, if any. It performs no I/O beyond the Store.
func (s *Server) HandleFrame(ctx context.Context, frame []byte) ([]byte, error) {
	_, kind, err := protocol.PeekType(frame)
	if err != nil {
		return nil, err
	}
	switch kind {
	case protocol.MsgInitiatorSync:
		return s.handleInitiatorSync(ctx, frame)
	case protocol.MsgWriteRequest:
		return s.handleWriteRequest(ctx, frame)
	default:
		return nil, fmt.Errorf("%w: relay does not accept message type %d", evolu.ErrUnknownTag, kind)
	}
}

func (s *Server) handleInitiatorSync(ctx context.Context, frame []byte) ([]byte, error) {
	msg, err := protocol.DecodeInitiatorSync(frame)
	if err != nil {
		return nil, err
	}

	if len(msg.Push) > 0 {
		if err := s.store.SaveMessages(ctx, msg.OwnerID, msg.Push); err != nil {
			return nil, err
		}
	}

	view := s.store.IndexView(msg.OwnerID)
	rec := reconcile.New(view)
	ranges := rec.Respond(timestamp.Zero, msg.Ranges)

	// Eagerly attach ciphertexts for any Literal range the relay is about to
	// report, so the common case (relay holds a few things the client
	// lacks) converges in this round instead of a further one.
	var push []evolu.EncryptedCrdtMessage
	for _, rng := range ranges {
		if rng.Kind != reconcile.KindLiteral {
			continue
		}
		msgs, err := s.store.MessagesAt(ctx, msg.OwnerID, rng.Timestamps)
		if err != nil {
			return nil, err
		}
		push = append(push, msgs...)
	}

	resp := protocol.ResponderSync{
		Version: protocol.CurrentVersion,
		OwnerID: msg.OwnerID,
		Ranges:  ranges,
		Push:    push,
	}
	return protocol.EncodeResponderSync(resp), nil
}

func (s *Server) handleWriteRequest(ctx context.Context, frame []byte) ([]byte, error) {
	msg, err := protocol.DecodeWriteRequest(frame)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.WriteKeyFor(ctx, msg.OwnerID)
	if err != nil {
		return nil, err
	}
	known := stored != nil

	if verr := s.authProv.VerifyProof(msg.OwnerID, msg.WriteKey, stored, known); verr != nil {
		return protocol.EncodeWriteReject(protocol.WriteReject{
			Version: protocol.CurrentVersion,
			Reason:  verr.Error(),
		}), nil
	}
	if !known {
		if err := s.store.ProvisionWriteKey(ctx, msg.OwnerID, msg.WriteKey, time.Now().UnixMilli()); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveMessages(ctx, msg.OwnerID, msg.Messages); err != nil {
		return nil, err
	}
	return protocol.EncodeWriteAck(protocol.WriteAck{Version: protocol.CurrentVersion}), nil
}
