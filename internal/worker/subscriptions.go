package worker

import (
	"context"

	"github.com/evolu-go/core/internal/owner"
	"github.com/evolu-go/core/internal/syncclient"
)

// SubscribeSyncState registers fn to be called whenever the sync client's
// connection state changes (spec §4.7: "subscribe-to-sync-state"). It is a
// no-op if the worker was built without a sync client.
func (w *Worker) SubscribeSyncState(fn func(syncclient.State)) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.onSyncState = append(w.onSyncState, fn)
}

// SubscribeOwner registers fn to be called whenever Reset erases the
// worker's owner data (spec §4.7: "subscribe-to-owner"). The worker has no
// restore operation, so nothing else triggers it.
func (w *Worker) SubscribeOwner(fn func(*owner.Owner)) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.onOwnerChange = append(w.onOwnerChange, fn)
}

// Subscribe registers a live query; its Run is invoked once immediately and
// again every time one of its Tables is touched by a committed mutation
// (spec §4.7: "subscribe-to-queries").
func (w *Worker) Subscribe(ctx context.Context, q Query) {
	w.stateMu.Lock()
	w.queries[q.ID] = q
	w.stateMu.Unlock()

	result, err := q.Run(ctx)
	w.notifyQueryResult(q.ID, result, err)
}

// Unsubscribe removes a previously registered query.
func (w *Worker) Unsubscribe(queryID string) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	delete(w.queries, queryID)
}

// OnQueryResult registers fn to be called with the (possibly error) result
// of any subscribed query's recomputation.
func (w *Worker) OnQueryResult(fn func(queryID string, result any, err error)) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.onQueryResult = append(w.onQueryResult, fn)
}

func (w *Worker) setSyncState(s syncclient.State) {
	w.stateMu.Lock()
	w.syncState = s
	listeners := append([]func(syncclient.State){}, w.onSyncState...)
	w.stateMu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// SyncState returns the sync client's last-known connection state.
func (w *Worker) SyncState() syncclient.State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.syncState
}

func (w *Worker) notifyOwnerChange(o *owner.Owner) {
	w.stateMu.Lock()
	listeners := append([]func(*owner.Owner){}, w.onOwnerChange...)
	w.stateMu.Unlock()
	for _, fn := range listeners {
		fn(o)
	}
}

func (w *Worker) notifyQueryResult(queryID string, result any, err error) {
	w.stateMu.Lock()
	listeners := append([]func(string, any, error){}, w.onQueryResult...)
	w.stateMu.Unlock()
	for _, fn := range listeners {
		fn(queryID, result, err)
	}
}
