package proposer

import (
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rain168/paxoskv"
)

func newTestManager(t *testing.T) (*Manager, []paxoskv.Peer) {
	m := NewManager(uuid.New(), log.NewNopLogger(), NewMetrics(nil), 50*time.Millisecond)
	acceptors := []paxoskv.Peer{"a1", "a2", "a3"}
	now := time.Now()
	out := m.Receive(now, "", paxoskv.SetProposeAcceptors{Acceptors: acceptors})
	require.Empty(t, out)
	out = m.Receive(now, "", paxoskv.SetAcceptAcceptors{Acceptors: acceptors})
	require.Empty(t, out)
	return m, acceptors
}

// driveQuorum answers the first majority of the PrepareReqs the round
// just emitted with an OK response carrying no prior accepted value,
// returning the proposer's replies to the last of them.
func driveQuorum(t *testing.T, m *Manager, now time.Time, prepares []paxoskv.Outbound) []paxoskv.Outbound {
	require.NotEmpty(t, prepares)
	majorityCount := len(prepares)/2 + 1
	var last []paxoskv.Outbound
	for i := 0; i < majorityCount; i++ {
		req := prepares[i].Msg.(paxoskv.PrepareReq)
		last = m.Receive(now, prepares[i].To, paxoskv.PrepareRes{
			ReqBallot: req.Ballot,
			Result:    paxoskv.PhaseOK(),
		})
	}
	return last
}

func TestSetRoundSucceedsOnMajority(t *testing.T) {
	m, acceptors := newTestManager(t)
	now := time.Now()

	prepares := m.Receive(now, "client-1", paxoskv.ClientRequest{ID: 1, Req: paxoskv.SetReq{K: paxoskv.Key("x"), V: paxoskv.Value("v1")}})
	require.Len(t, prepares, len(acceptors))

	accepts := driveQuorum(t, m, now, prepares)
	require.Len(t, accepts, len(acceptors))
	for _, ob := range accepts {
		_, ok := ob.Msg.(paxoskv.AcceptReq)
		require.True(t, ok)
	}

	majorityCount := len(accepts)/2 + 1
	var responses []paxoskv.Outbound
	for i := 0; i < majorityCount; i++ {
		req := accepts[i].Msg.(paxoskv.AcceptReq)
		responses = m.Receive(now, accepts[i].To, paxoskv.AcceptRes{Ballot: req.Ballot, Result: paxoskv.PhaseOK()})
	}
	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, paxoskv.Peer("client-1"), resp.To)
	cr := resp.Msg.(paxoskv.ClientResponse)
	assert.Equal(t, uint64(1), cr.ID)
	require.True(t, cr.Result.OK)
	require.NotNil(t, cr.Result.Value)
	assert.Equal(t, paxoskv.Value("v1"), *cr.Result.Value)
}

func TestCasFailsImmediatelyOnMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	existing := paxoskv.Value("current")
	prepares := m.Receive(now, "client-1", paxoskv.ClientRequest{
		ID: 1,
		Req: paxoskv.CasReq{K: paxoskv.Key("k"), Expected: paxoskv.Some(paxoskv.Value("wrong")), New: paxoskv.Some(paxoskv.Value("new"))},
	})
	require.NotEmpty(t, prepares)

	majorityCount := len(prepares)/2 + 1
	var out []paxoskv.Outbound
	for i := 0; i < majorityCount; i++ {
		req := prepares[i].Msg.(paxoskv.PrepareReq)
		out = m.Receive(now, prepares[i].To, paxoskv.PrepareRes{
			ReqBallot:          req.Ballot,
			LastAcceptedBallot: paxoskv.Ballot{Counter: 1, ProposerID: uuid.New()},
			LastAcceptedValue:  paxoskv.Some(existing),
			Result:             paxoskv.PhaseOK(),
		})
	}
	require.Len(t, out, 1)
	cr := out[0].Msg.(paxoskv.ClientResponse)
	require.False(t, cr.Result.OK)
	require.NotNil(t, cr.Result.Err)
	assert.True(t, cr.Result.Err.IsFailedCas())
	require.NotNil(t, cr.Result.Err.Observed)
	assert.Equal(t, existing, *cr.Result.Err.Observed)
}

func TestProposalRejectedOnMajorityRejection(t *testing.T) {
	m, acceptors := newTestManager(t)
	now := time.Now()

	prepares := m.Receive(now, "client-1", paxoskv.ClientRequest{ID: 1, Req: paxoskv.GetReq{K: paxoskv.Key("k")}})
	require.Len(t, prepares, len(acceptors))

	higher := paxoskv.Ballot{Counter: 99, ProposerID: uuid.New()}
	majorityCount := len(prepares)/2 + 1
	var out []paxoskv.Outbound
	for i := 0; i < majorityCount; i++ {
		req := prepares[i].Msg.(paxoskv.PrepareReq)
		out = m.Receive(now, prepares[i].To, paxoskv.PrepareRes{
			ReqBallot: req.Ballot,
			Result:    paxoskv.PhaseRejected(higher),
		})
	}
	require.Len(t, out, 1)
	cr := out[0].Msg.(paxoskv.ClientResponse)
	require.False(t, cr.Result.OK)
	assert.True(t, cr.Result.Err.IsRejectedProposal())
	assert.True(t, cr.Result.Err.Last.Equal(higher))
}

func TestDuplicateClientRequestDoesNotStartSecondRound(t *testing.T) {
	m, acceptors := newTestManager(t)
	now := time.Now()

	first := m.Receive(now, "client-1", paxoskv.ClientRequest{ID: 7, Req: paxoskv.GetReq{K: paxoskv.Key("k")}})
	require.Len(t, first, len(acceptors))

	second := m.Receive(now, "client-1", paxoskv.ClientRequest{ID: 7, Req: paxoskv.GetReq{K: paxoskv.Key("k")}})
	assert.Empty(t, second)
}

func TestRoundTimesOut(t *testing.T) {
	m, acceptors := newTestManager(t)
	now := time.Now()

	prepares := m.Receive(now, "client-1", paxoskv.ClientRequest{ID: 1, Req: paxoskv.GetReq{K: paxoskv.Key("k")}})
	require.Len(t, prepares, len(acceptors))

	later := now.Add(time.Second)
	out := m.Receive(later, "someone", paxoskv.Tick{})
	require.Len(t, out, 1)
	cr := out[0].Msg.(paxoskv.ClientResponse)
	assert.False(t, cr.Result.OK)
	assert.True(t, cr.Result.Err.IsTimeout())

	// A resubmission after the timeout response must start a fresh round.
	retryPrepares := m.Receive(later, "client-1", paxoskv.ClientRequest{ID: 1, Req: paxoskv.GetReq{K: paxoskv.Key("k")}})
	assert.Len(t, retryPrepares, len(acceptors))
}
