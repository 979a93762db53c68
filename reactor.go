package paxoskv

import "time"

// Outbound pairs a Message with the Peer it should be delivered to.
type Outbound struct {
	To  Peer
	Msg Message
}

// Reactor is the dispatch seam every component (acceptor.Manager,
// proposer.Manager, client.Client) implements: a pure function of
// (now, sender, message) to a list of outbound messages (spec §6, §9).
// Receive must never block — only the Transport driving it may suspend
// (spec §5).
type Reactor interface {
	Receive(now time.Time, from Peer, msg Message) []Outbound
}

// Transport binds a Reactor to the outside world. It provides no
// fault-tolerance of its own: a message may be delivered 0, 1, or many
// times, in any order (spec §5, §9's "polymorphic transport" note). The
// same component code runs unmodified over transport.Sim (deterministic
// single-process simulation) or transport.UDP (real network).
type Transport interface {
	// NextMessage blocks until the next inbound message is available.
	NextMessage() (Peer, Message)

	// SendMessage enqueues msg for delivery to to. It may be delivered
	// 0-N times with no ordering guarantee.
	SendMessage(to Peer, msg Message)

	// Run drives r until the transport is closed.
	Run(r Reactor)
}

// RunOnce feeds a single inbound message through a Transport/Reactor
// pair, the shape Transport.Run's loop body takes. Exposed so a
// transport implementation can share it instead of re-deriving the loop.
func RunOnce(t Transport, r Reactor, now time.Time) {
	from, msg := t.NextMessage()
	for _, ob := range r.Receive(now, from, msg) {
		t.SendMessage(ob.To, ob.Msg)
	}
}
