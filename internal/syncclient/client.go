// Package syncclient is the device-side half of sync: a long-lived
// connection to one relay that reconnects under failure, runs
// range-reconciliation rounds against the local history store, and pushes
// pending local writes (spec §4.5, §4.6, §5).
//
// Grounded on the teacher's internal/mempool/poller.go for the
// ticker/select/context.Done() run-loop shape, generalized from a fixed
// polling interval to a dial/backoff/sync state machine, and on
// internal/api/websocket.go for the gorilla/websocket connection handling
// half (adapted to one outbound client connection instead of a server-side
// connection registry).
package syncclient

import (
	"context"
	"log"
	"math/rand"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evolu-go/core/internal/auth"
	"github.com/evolu-go/core/internal/cryptobox"
	"github.com/evolu-go/core/internal/history"
	"github.com/evolu-go/core/pkg/evolu"
)

const (
	// minBackoff/maxBackoff/backoffMultiplier bound the jittered exponential
	// reconnect delay (spec §4.6).
	minBackoff        = 250 * time.Millisecond
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2.0

	// idlePingInterval keeps a healthy connection from being reaped by
	// intermediate proxies during quiet periods (spec §4.6).
	idlePingInterval = 30 * time.Second

	// maxQueueDepth is the outbound queue's high-water mark: once reached,
	// EnqueuePush blocks the caller until the send loop drains it, applying
	// backpressure to the mutation path instead of growing unbounded
	// (spec §5, §9 Open Questions: bounded local memory).
	maxQueueDepth = 4096
)

// Client runs sync for exactly one Owner against one relay URL.
type Client struct {
	relayURL string
	ownerID  string
	store    *history.Store
	box      *cryptobox.Box
	authProv auth.Provider
	queue    *outboundQueue

	// OnStateChange, if set, is invoked from the run loop whenever the
	// connection state changes (spec §4.6: Offline/Connecting/Syncing/Idle).
	OnStateChange func(State)
}

// State mirrors the spec's sync connection state machine (spec §4.6).
type State int

const (
	StateOffline State = iota
	StateConnecting
	StateSyncing
	StateIdle
)

func New(relayURL, ownerID string, store *history.Store, box *cryptobox.Box, authProv auth.Provider) *Client {
	return &Client{
		relayURL: relayURL,
		ownerID:  ownerID,
		store:    store,
		box:      box,
		authProv: authProv,
		queue:    newOutboundQueue(maxQueueDepth),
	}
}

// EnqueuePush schedules locally-produced encrypted messages to be pushed on
// the next sync round, blocking if the queue is already at its high-water
// mark (backpressure, spec §5).
func (c *Client) EnqueuePush(ctx context.Context, msgs []evolu.EncryptedCrdtMessage) error {
	return c.queue.Push(ctx, msgs)
}

func (c *Client) setState(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

// Run connects, syncs, and reconnects under failure until ctx is canceled.
// Each connection attempt runs one sync round immediately, then idles with
// periodic pings, running another sync round on the same connection when
// new local writes arrive, until the connection drops or ctx ends; after a
// dropped connection the loop reconnects with jittered exponential backoff
// (spec §4.6).
func (c *Client) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			c.setState(StateOffline)
			return
		}

		sessionID := uuid.New()

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("[syncclient] session %s: dial %s failed: %v", sessionID, c.relayURL, err)
			c.setState(StateOffline)
			if !sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
		log.Printf("[syncclient] session %s connected to %s", sessionID, c.relayURL)

		c.setState(StateSyncing)
		t := newWebsocketTransport(conn)
		runErr := c.runSession(ctx, t)
		_ = conn.Close()
		if runErr != nil {
			log.Printf("[syncclient] session %s with %s ended: %v", sessionID, c.relayURL, runErr)
		}
		c.setState(StateOffline)

		if !sleepBackoff(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// dial connects to the relay, tagging the upgrade request with this
// client's owner_id so the relay's rate limiter (internal/relayserver)
// can bucket by owner rather than by IP.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("owner_id", c.ownerID)
	u.RawQuery = q.Encode()
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runSession drives one connection: an initial sync round, then an idle
// loop that re-syncs whenever new local writes are enqueued, pings on
// idlePingInterval, and returns when the connection or context fails.
func (c *Client) runSession(ctx context.Context, t frameTransport) error {
	if err := c.syncOnce(ctx, t); err != nil {
		return err
	}
	c.setState(StateIdle)

	ticker := time.NewTicker(idlePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Ping(ctx); err != nil {
				return err
			}
		case <-c.queue.NotifyNonEmpty():
			c.setState(StateSyncing)
			if err := c.syncOnce(ctx, t); err != nil {
				return err
			}
			c.setState(StateIdle)
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffMultiplier)
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// sleepBackoff waits a jittered (half to full) delay, returning false if ctx
// ends first.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	jittered := time.Duration(float64(d)/2 + rand.Float64()*float64(d)/2)
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
