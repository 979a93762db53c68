package paxoskv

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Ballot is the monotonically orderable token proposers mint to
// sequence attempts at choosing a value for a key (spec §3). It pairs a
// locally monotonic counter with a stable per-proposer UUID tiebreaker
// so that two proposers never mint the same ballot, following the
// (high-resolution-counter, stable-proposer-id) shape original_source's
// demo Ballot uses and spec §9 recommends.
type Ballot struct {
	Counter    uint64
	ProposerID uuid.UUID
}

// ZeroBallot is the default/zero ballot. Since real proposers always
// issue counters starting at 1, it compares strictly below any issued
// ballot regardless of ProposerID (spec §3).
var ZeroBallot = Ballot{}

// Less reports whether b sequences strictly before o.
func (b Ballot) Less(o Ballot) bool {
	if b.Counter != o.Counter {
		return b.Counter < o.Counter
	}
	return bytes.Compare(b.ProposerID[:], o.ProposerID[:]) < 0
}

// GreaterOrEqual reports b >= o.
func (b Ballot) GreaterOrEqual(o Ballot) bool {
	return !b.Less(o)
}

func (b Ballot) Equal(o Ballot) bool {
	return b.Counter == o.Counter && b.ProposerID == o.ProposerID
}

func (b Ballot) String() string {
	if b == ZeroBallot {
		return "Ballot(zero)"
	}
	return fmt.Sprintf("Ballot(%d/%s)", b.Counter, shortUUID(b.ProposerID))
}

func shortUUID(id uuid.UUID) string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// Max returns the ballot that sequences later between b and o.
func Max(b, o Ballot) Ballot {
	if b.Less(o) {
		return o
	}
	return b
}

// BallotIssuer mints strictly increasing, globally unique ballots for
// one proposer. Next is never called concurrently (proposers are
// single-threaded reactors per spec §5), so no locking is needed.
type BallotIssuer struct {
	id      uuid.UUID
	counter uint64
}

func NewBallotIssuer(id uuid.UUID) *BallotIssuer {
	return &BallotIssuer{id: id}
}

// Next mints a ballot strictly greater than any previously issued by
// this issuer.
func (bi *BallotIssuer) Next() Ballot {
	bi.counter++
	return Ballot{Counter: bi.counter, ProposerID: bi.id}
}

// ObserveRejection lets a proposer fast-forward its counter above a
// ballot a rejection revealed, so its next issuance isn't doomed to
// lose again (spec §4.3, §9).
func (bi *BallotIssuer) ObserveRejection(last Ballot) {
	if last.Counter > bi.counter {
		bi.counter = last.Counter
	}
}
