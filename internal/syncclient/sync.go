package syncclient

import (
	"context"
	"fmt"
	"log"

	"github.com/evolu-go/core/internal/envelope"
	"github.com/evolu-go/core/internal/history"
	"github.com/evolu-go/core/internal/protocol"
	"github.com/evolu-go/core/internal/reconcile"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// maxSyncRounds bounds one syncOnce call, guarding against a misbehaving
// peer that never converges to all-Skip ranges.
const maxSyncRounds = 32

// syncOnce drives range reconciliation to convergence against one relay
// connection: open with the local top-level fingerprint plus any queued
// local writes, apply whatever the relay pushes back, and keep exchanging
// refined ranges until both sides report Skip everywhere (spec §4.4, §4.5).
func (c *Client) syncOnce(ctx context.Context, t frameTransport) error {
	view := c.store.IndexView(c.ownerID)
	rec := reconcile.New(view)

	ranges := rec.InitialRanges()
	push := c.queue.Drain()

	for round := 0; round < maxSyncRounds; round++ {
		initMsg := protocol.InitiatorSync{
			Version:     protocol.CurrentVersion,
			OwnerID:     c.ownerID,
			ClaimedSize: uint64(view.Size()),
			Ranges:      ranges,
			Push:        push,
		}
		if err := t.WriteFrame(ctx, protocol.EncodeInitiatorSync(initMsg)); err != nil {
			return err
		}

		frame, err := t.ReadFrame(ctx)
		if err != nil {
			return err
		}
		resp, err := protocol.DecodeResponderSync(frame)
		if err != nil {
			return err
		}

		if len(resp.Push) > 0 {
			if err := c.applyEncrypted(ctx, resp.Push); err != nil {
				return err
			}
		}

		if reconcile.AllSkip(resp.Ranges) {
			return nil
		}

		nextPush, err := c.collectMissingRemotely(ctx, view, resp.Ranges)
		if err != nil {
			return err
		}
		push = nextPush
		ranges = rec.Respond(timestamp.Zero, resp.Ranges)
	}
	return fmt.Errorf("syncclient: exceeded %d reconciliation rounds without converging", maxSyncRounds)
}

// applyEncrypted decrypts and applies messages the relay pushed. A single
// message failing to decrypt (wrong key, corruption) is logged and skipped
// rather than aborting the whole batch (spec §7: per-message failure,
// not a session failure).
func (c *Client) applyEncrypted(ctx context.Context, encs []evolu.EncryptedCrdtMessage) error {
	msgs := make([]evolu.CrdtMessage, 0, len(encs))
	for _, enc := range encs {
		msg, err := envelope.Open(c.box, enc)
		if err != nil {
			log.Printf("[syncclient] dropping undecryptable message at %s: %v", enc.Timestamp, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return c.store.ApplyMessages(ctx, c.ownerID, msgs)
}

// collectMissingRemotely walks the response ranges in order (mirroring
// Reconciler.Respond's own lower-bound bookkeeping) and, for every Literal
// range, re-seals any locally-held timestamp the relay's list omitted so it
// can be pushed in the next round (spec §4.4: "pushes any it has that the
// remote lacks").
func (c *Client) collectMissingRemotely(ctx context.Context, view *history.IndexView, ranges []reconcile.Range) ([]evolu.EncryptedCrdtMessage, error) {
	var out []evolu.EncryptedCrdtMessage
	cur := timestamp.Zero
	for _, rng := range ranges {
		if rng.Kind == reconcile.KindLiteral {
			var local []timestamp.Timestamp
			view.Iterate(cur, rng.Upper, func(ts timestamp.Timestamp) bool {
				local = append(local, ts)
				return true
			})
			_, missingRemotely := reconcile.DiffLiteral(local, rng.Timestamps)
			for _, ts := range missingRemotely {
				msg, err := c.store.MessageAt(ctx, c.ownerID, ts)
				if err != nil {
					return nil, err
				}
				enc, err := envelope.Seal(c.box, msg)
				if err != nil {
					return nil, err
				}
				out = append(out, enc)
			}
		}
		cur = rng.Upper
	}
	return out, nil
}
