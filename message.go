package paxoskv

import "fmt"

// Peer is an addressable endpoint: an opaque string resolvable to a
// network address (spec §6), typically "host:port".
type Peer string

// Message is the wire taxonomy of spec §6. Every concrete type below
// implements it; reactors dispatch on the concrete type with a type
// switch, the same shape the teacher's connectionManagerMsg/
// acceptorStateMachineComponent messages use.
type Message interface {
	messageWitness()
}

// ClientRequest is a client's correlated ask. The proposer deduplicates
// in-flight rounds on (sender, ID); resending before a deadline is
// permitted and must not duplicate effects (spec §4.3, §4.4).
type ClientRequest struct {
	ID  uint64
	Req Req
}

func (ClientRequest) messageWitness() {}
func (m ClientRequest) String() string {
	return fmt.Sprintf("ClientRequest{id=%d, req=%v}", m.ID, m.Req)
}

// ClientResponse answers exactly one ClientRequest by ID (spec §4.3).
type ClientResponse struct {
	ID     uint64
	Result Outcome
}

func (ClientResponse) messageWitness() {}
func (m ClientResponse) String() string {
	return fmt.Sprintf("ClientResponse{id=%d, result=%v}", m.ID, m.Result)
}

// SetProposeAcceptors / SetAcceptAcceptors replace a proposer's
// respective acceptor set wholesale (spec §3, §4.3).
type SetProposeAcceptors struct {
	Acceptors []Peer
}

func (SetProposeAcceptors) messageWitness() {}

type SetAcceptAcceptors struct {
	Acceptors []Peer
}

func (SetAcceptAcceptors) messageWitness() {}

// PrepareReq is Paxos phase 1: a proposer asking an acceptor to promise
// not to accept anything below Ballot for Key (spec §4.2).
type PrepareReq struct {
	Ballot Ballot
	Key    Key
}

func (PrepareReq) messageWitness() {}
func (m PrepareReq) String() string {
	return fmt.Sprintf("PrepareReq{ballot=%v, key=%v}", m.Ballot, m.Key)
}

// PrepareRes answers a PrepareReq. LastAcceptedBallot/Value are always
// populated (even on rejection) so a proposer that wins elsewhere can
// still learn of a prior accepted value (spec §4.2).
type PrepareRes struct {
	ReqBallot          Ballot
	LastAcceptedBallot Ballot
	LastAcceptedValue  OptValue
	Result             PhaseResult
}

func (PrepareRes) messageWitness() {}
func (m PrepareRes) String() string {
	return fmt.Sprintf("PrepareRes{req=%v, result=%v}", m.ReqBallot, m.Result)
}

// AcceptReq is Paxos phase 2: a proposer asking an acceptor to accept
// Value at Ballot for Key (spec §4.2). Value == nil proposes absence
// (a Delete's resolved post-state).
type AcceptReq struct {
	Ballot Ballot
	Key    Key
	Value  OptValue
}

func (AcceptReq) messageWitness() {}
func (m AcceptReq) String() string {
	return fmt.Sprintf("AcceptReq{ballot=%v, key=%v}", m.Ballot, m.Key)
}

// AcceptRes answers an AcceptReq.
type AcceptRes struct {
	Ballot Ballot
	Result PhaseResult
}

func (AcceptRes) messageWitness() {}
func (m AcceptRes) String() string {
	return fmt.Sprintf("AcceptRes{ballot=%v, result=%v}", m.Ballot, m.Result)
}

// Tick is a synthetic, locally-injected message a transport may feed a
// reactor on a timer so deadline scanning makes progress even on an
// idle channel (spec §5). It never crosses the wire.
type Tick struct{}

func (Tick) messageWitness() {}
