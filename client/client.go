// Package client implements spec §4.4: the request correlator a caller
// drives directly (not a network-facing server component). A Client
// mints a locally-monotonic correlation id per request, tracks one
// deadline per outstanding id, and delivers exactly one result per id —
// success, a protocol error, or a timeout — discarding late duplicate
// responses. Resubmitting before the deadline is permitted and reuses
// the proposer's own idempotent-retry guarantee (spec §4.3) rather than
// starting a second logical request here.
package client

import (
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/rain168/paxoskv"
)

type pending struct {
	req      paxoskv.Req
	deadline time.Time
	backoff  *paxoskv.BinaryBackoffEngine
	result   chan paxoskv.Outcome
}

// Client is a paxoskv.Reactor: Receive handles ClientResponse messages
// arriving from proposers, and Submit is the caller-facing entry point
// that emits a ClientRequest and blocks for the eventual Outcome. Submit
// is typically called from the embedding application's own goroutine
// while Receive is driven by the transport's delivery goroutine (see
// client_test.go), so inFlight/nextID are guarded by mu rather than
// assumed single-threaded the way a wire-facing Reactor (acceptor,
// proposer) is under spec §5 — a Client sits on the caller's side of
// that boundary, not the reactor side.
type Client struct {
	logger    log.Logger
	proposers []paxoskv.Peer
	timeout   time.Duration
	rng       *rand.Rand

	mu       sync.Mutex
	nextID   uint64
	inFlight map[uint64]*pending

	sender func(paxoskv.Outbound)
}

func New(logger log.Logger, proposers []paxoskv.Peer, timeout time.Duration, sender func(paxoskv.Outbound)) *Client {
	if timeout <= 0 {
		timeout = paxoskv.DefaultClientTimeout
	}
	return &Client{
		logger:    logger,
		proposers: proposers,
		timeout:   timeout,
		rng:       rand.New(rand.NewSource(1)),
		inFlight:  make(map[uint64]*pending),
		sender:    sender,
	}
}

// Submit issues req, blocking until a result is delivered via Receive
// or the deadline passes locally. The wall-clock timer here is the
// Client's only expiry path: Receive ignores Tick and never times out a
// request itself.
func (c *Client) Submit(now time.Time, req paxoskv.Req) paxoskv.Outcome {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	p := &pending{
		req:      req,
		deadline: now.Add(c.timeout),
		backoff:  paxoskv.NewBinaryBackoffEngine(c.rng, 5*time.Millisecond, c.timeout/2),
		result:   make(chan paxoskv.Outcome, 1),
	}
	c.inFlight[id] = p
	c.mu.Unlock()

	c.send(id, req)

	select {
	case res := <-p.result:
		return res
	case <-time.After(c.timeout):
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
		return paxoskv.Failure(paxoskv.ErrTimeout, paxoskv.ZeroBallot, nil)
	}
}

func (c *Client) send(id uint64, req paxoskv.Req) {
	msg := paxoskv.ClientRequest{ID: id, Req: req}
	for _, p := range c.proposers {
		c.sender(paxoskv.Outbound{To: p, Msg: msg})
	}
}

// Receive implements paxoskv.Reactor for the response half: it never
// itself emits outbound messages (a retry before deadline goes through
// Submit's caller, not through Receive), matching spec §4.4's
// description of the client as purely response-consuming here.
func (c *Client) Receive(now time.Time, from paxoskv.Peer, msg paxoskv.Message) []paxoskv.Outbound {
	resp, ok := msg.(paxoskv.ClientResponse)
	if !ok {
		return nil
	}
	c.mu.Lock()
	p, ok := c.inFlight[resp.ID]
	if ok {
		delete(c.inFlight, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Log("msg", "dropping late duplicate response", "id", resp.ID, "from", from)
		return nil
	}
	p.result <- resp.Result
	return nil
}

// Retry resubmits an outstanding id's original request if it is still
// within its deadline, spacing attempts with the backoff engine seeded
// at Submit time (spec §4.4: "re-sending before the deadline is
// permitted and must not produce duplicated effects"). Each call
// advances the engine first, doubling the window (up to its cap) from
// which the resend delay is drawn at random; a single delay can still be
// shorter than the one before it.
func (c *Client) Retry(now time.Time, id uint64) bool {
	c.mu.Lock()
	p, ok := c.inFlight[id]
	if !ok || !now.Before(p.deadline) {
		c.mu.Unlock()
		return false
	}
	p.backoff.Advance()
	c.mu.Unlock()

	p.backoff.After(func() { c.send(id, p.req) })
	return true
}
