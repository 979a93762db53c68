package paxoskv

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBallotOrdering(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	b1 := Ballot{Counter: 1, ProposerID: high}
	b2 := Ballot{Counter: 2, ProposerID: low}
	assert.True(t, b1.Less(b2), "counter dominates proposer id")

	bLow := Ballot{Counter: 5, ProposerID: low}
	bHigh := Ballot{Counter: 5, ProposerID: high}
	assert.True(t, bLow.Less(bHigh), "equal counters break ties on proposer id")

	assert.True(t, ZeroBallot.Less(Ballot{Counter: 1, ProposerID: low}))
	assert.False(t, Ballot{Counter: 1, ProposerID: low}.Less(ZeroBallot))
}

func TestBallotIssuerMonotonic(t *testing.T) {
	bi := NewBallotIssuer(uuid.New())
	a := bi.Next()
	b := bi.Next()
	assert.True(t, a.Less(b))

	rejected := Ballot{Counter: 100, ProposerID: uuid.New()}
	bi.ObserveRejection(rejected)
	c := bi.Next()
	assert.True(t, rejected.Less(c))
}

func TestMax(t *testing.T) {
	low := Ballot{Counter: 1, ProposerID: uuid.New()}
	high := Ballot{Counter: 2, ProposerID: uuid.New()}
	assert.Equal(t, high, Max(low, high))
	assert.Equal(t, high, Max(high, low))
}
