package syncclient

import (
	"context"
	"sync"

	"github.com/evolu-go/core/pkg/evolu"
)

// outboundQueue buffers encrypted messages awaiting the next sync round.
// Push blocks once depth reaches its cap, giving the worker's mutation path
// backpressure instead of unbounded growth while offline (spec §5, §9 Open
// Questions).
type outboundQueue struct {
	mu       sync.Mutex
	items    []evolu.EncryptedCrdtMessage
	cap      int
	notEmpty chan struct{}
	notFull  *sync.Cond
}

func newOutboundQueue(capacity int) *outboundQueue {
	q := &outboundQueue{cap: capacity, notEmpty: make(chan struct{}, 1)}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends msgs, blocking while the queue is at capacity. It returns
// ctx.Err() if ctx ends before room is available.
func (q *outboundQueue) Push(ctx context.Context, msgs []evolu.EncryptedCrdtMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	for len(q.items) >= q.cap {
		if ctx.Err() != nil {
			q.mu.Unlock()
			return ctx.Err()
		}
		q.notFull.Wait()
	}
	q.items = append(q.items, msgs...)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns every currently queued message.
func (q *outboundQueue) Drain() []evolu.EncryptedCrdtMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	q.notFull.Broadcast()
	return out
}

// NotifyNonEmpty returns a channel that receives once whenever Push makes
// the queue non-empty; the run loop selects on it to trigger a sync round.
func (q *outboundQueue) NotifyNonEmpty() <-chan struct{} {
	return q.notEmpty
}
