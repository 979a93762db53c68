package client

import (
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rain168/paxoskv"
)

func TestSubmitDeliversSuccess(t *testing.T) {
	var sent []paxoskv.Outbound
	c := New(log.NewNopLogger(), []paxoskv.Peer{"proposer-1"}, time.Second, func(ob paxoskv.Outbound) {
		sent = append(sent, ob)
	})

	done := make(chan paxoskv.Outcome, 1)
	go func() {
		done <- c.Submit(time.Now(), paxoskv.GetReq{K: paxoskv.Key("k")})
	}()

	require.Eventually(t, func() bool { return len(sent) == 1 }, time.Second, time.Millisecond)
	req := sent[0].Msg.(paxoskv.ClientRequest)

	out := c.Receive(time.Now(), "proposer-1", paxoskv.ClientResponse{ID: req.ID, Result: paxoskv.Success(nil)})
	assert.Empty(t, out)

	select {
	case res := <-done:
		assert.True(t, res.OK)
	case <-time.After(time.Second):
		t.Fatal("Submit did not return")
	}
}

func TestLateDuplicateResponseIsDropped(t *testing.T) {
	c := New(log.NewNopLogger(), []paxoskv.Peer{"proposer-1"}, time.Second, func(paxoskv.Outbound) {})
	out := c.Receive(time.Now(), "proposer-1", paxoskv.ClientResponse{ID: 123, Result: paxoskv.Success(nil)})
	assert.Empty(t, out)
}

func TestRetryGrowsBackoffPeriodEachCall(t *testing.T) {
	c := New(log.NewNopLogger(), []paxoskv.Peer{"proposer-1"}, time.Minute, func(paxoskv.Outbound) {})
	now := time.Now()

	c.mu.Lock()
	c.inFlight[1] = &pending{
		req:      paxoskv.GetReq{K: paxoskv.Key("k")},
		deadline: now.Add(time.Minute),
		backoff:  paxoskv.NewBinaryBackoffEngine(c.rng, 5*time.Millisecond, time.Second),
		result:   make(chan paxoskv.Outcome, 1),
	}
	c.mu.Unlock()

	periods := make([]time.Duration, 0, 3)
	for i := 0; i < 3; i++ {
		require.True(t, c.Retry(now, 1))
		c.mu.Lock()
		periods = append(periods, c.inFlight[1].backoff.Period())
		c.mu.Unlock()
	}

	for i := 1; i < len(periods); i++ {
		assert.Greater(t, periods[i], periods[i-1], "backoff period should strictly grow on each retry")
	}
}
