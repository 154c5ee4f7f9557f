// Package worker is the database worker: the single writer that owns the
// SQL connection, turns host mutations into CRDT messages, and fans
// committed writes out to sync (spec §4.7, §5).
//
// Grounded on the teacher's APIHandler (internal/api/routes.go): one struct
// holding the store plus its supporting subsystems, one method per
// operation, callers never touching the store directly.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evolu-go/core/internal/cryptobox"
	"github.com/evolu-go/core/internal/envelope"
	"github.com/evolu-go/core/internal/history"
	"github.com/evolu-go/core/internal/owner"
	"github.com/evolu-go/core/internal/schema"
	"github.com/evolu-go/core/internal/syncclient"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// Query identifies a live query a host has subscribed to: recompute by
// re-running Run whenever a committed Mutate touches one of Tables (spec §4.7:
// "the worker only knows how to recompute affected queries on commit").
type Query struct {
	ID     string
	Tables []string
	Run    func(ctx context.Context) (any, error)
}

// Worker serializes every mutation against one Owner's SQL connection,
// producing CRDT messages, applying them locally, and enqueuing them for
// sync (spec §4.7, §5: "the worker is the single writer").
type Worker struct {
	store   *history.Store
	owner   *owner.Owner
	box     *cryptobox.Box
	client  *syncclient.Client
	clock   timestamp.Clock
	nowFunc func() time.Time

	mu      sync.Mutex
	lastTS  timestamp.Timestamp
	queries map[string]Query

	stateMu       sync.Mutex
	syncState     syncclient.State
	onSyncState   []func(syncclient.State)
	onOwnerChange []func(*owner.Owner)
	onQueryResult []func(queryID string, result any, err error)
}

// New builds a Worker for one already-opened Owner. client may be nil for a
// local-only worker that never syncs (tests, offline-only hosts).
func New(store *history.Store, o *owner.Owner, client *syncclient.Client) (*Worker, error) {
	box, err := cryptobox.New(o.EncryptionKey[:])
	if err != nil {
		return nil, err
	}
	w := &Worker{
		store:   store,
		owner:   o,
		box:     box,
		client:  client,
		clock:   timestamp.NewClock(),
		nowFunc: time.Now,
		lastTS:  o.InitialTimestamp(),
		queries: make(map[string]Query),
	}
	if client != nil {
		client.OnStateChange = w.setSyncState
	}
	return w, nil
}

// Mutate applies muts as one microtask-batched transaction (spec §4.7):
// every mutation in the batch is validated first, and if any one of them
// fails validation the whole batch is rejected without touching storage —
// the caller is expected to pass exactly the mutations issued within one
// logical turn, e.g. one request handler invocation.
func (w *Worker) Mutate(ctx context.Context, muts []evolu.Mutation) ([]evolu.MutationResult, error) {
	if len(muts) == 0 {
		return nil, nil
	}

	for _, m := range muts {
		if err := schema.ValidateMutation(m); err != nil {
			return nil, err
		}
	}

	results, err := w.commitBatch(ctx, muts)
	if err != nil {
		return nil, err
	}

	w.recomputeAffected(ctx, affectedTables(muts))
	return results, nil
}

// commitBatch runs the locked portion of Mutate: timestamp generation,
// local commit, and sync enqueue all happen under w.mu so that timestamp
// issuance stays strictly ordered (spec §5: "mutations issued from one host
// in order commit in that order").
func (w *Worker) commitBatch(ctx context.Context, muts []evolu.Mutation) ([]evolu.MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var msgs []evolu.CrdtMessage
	results := make([]evolu.MutationResult, len(muts))
	for i, m := range muts {
		for column, value := range m.Columns {
			ts, err := w.clock.Send(w.nowMillis(), w.lastTS)
			if err != nil {
				return nil, err
			}
			w.lastTS = ts
			msgs = append(msgs, evolu.CrdtMessage{
				Table:     m.Table,
				RowID:     m.RowID,
				Column:    column,
				Value:     value,
				Timestamp: ts,
			})
		}
		results[i] = evolu.MutationResult{OK: true, ID: m.RowID}
	}

	if err := w.store.ApplyMessages(ctx, w.owner.ID, msgs); err != nil {
		return nil, fmt.Errorf("worker: commit batch: %w", err)
	}

	if w.client != nil {
		encs := make([]evolu.EncryptedCrdtMessage, 0, len(msgs))
		for _, m := range msgs {
			enc, err := envelope.Seal(w.box, m)
			if err != nil {
				return nil, fmt.Errorf("worker: seal for sync: %w", err)
			}
			encs = append(encs, enc)
		}
		if err := w.client.EnqueuePush(ctx, encs); err != nil {
			return nil, fmt.Errorf("worker: enqueue for sync: %w", err)
		}
	}

	return results, nil
}

// Query reads one row through the materialized view (spec §4.3).
func (w *Worker) Query(ctx context.Context, table, rowID string) (evolu.Row, error) {
	return w.store.ReadRow(ctx, w.owner.ID, table, rowID)
}

// Reset erases every row belonging to the worker's owner while keeping the
// owner identity itself intact, so the same mnemonic can be restored later
// (spec §3 "Owner" lifecycle, internal/owner.Owner.Reset). Held mutations in
// flight are not affected; callers should quiesce Mutate calls first.
func (w *Worker) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.owner.Reset(func(ownerID string) error {
		return w.store.DeleteOwner(ctx, ownerID)
	}); err != nil {
		return err
	}
	w.lastTS = w.owner.InitialTimestamp()
	w.notifyOwnerChange(w.owner)
	return nil
}

func (w *Worker) nowMillis() int64 {
	return w.nowFunc().UnixMilli()
}

func affectedTables(muts []evolu.Mutation) map[string]struct{} {
	out := make(map[string]struct{}, len(muts))
	for _, m := range muts {
		out[m.Table] = struct{}{}
	}
	return out
}

// recomputeAffected re-runs every subscribed query whose table set
// intersects touched, fanning the recomputation out with errgroup the way
// the spec's "recompute affected queries on commit" step implies a batch of
// independent re-reads rather than a serial scan (spec §4.7, §2 DOMAIN
// STACK: x/sync kept for this).
func (w *Worker) recomputeAffected(ctx context.Context, touched map[string]struct{}) {
	var matched []Query
	w.stateMu.Lock()
	for _, q := range w.queries {
		for _, t := range q.Tables {
			if _, ok := touched[t]; ok {
				matched = append(matched, q)
				break
			}
		}
	}
	w.stateMu.Unlock()
	if len(matched) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range matched {
		q := q
		g.Go(func() error {
			result, err := q.Run(gctx)
			w.notifyQueryResult(q.ID, result, err)
			return nil
		})
	}
	_ = g.Wait()
}
