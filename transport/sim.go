package transport

import (
	"math/rand"
	"time"

	"github.com/rain168/paxoskv"
)

type simMessage struct {
	from, to paxoskv.Peer
	msg      paxoskv.Message
}

// Sim is a deterministic-ish single-process chaos harness: one shared
// in-flight queue popped and shuffled every step, with configurable
// loss and duplication, directly modeled on original_source's main.rs
// (`in_flight: Vec<(From, To, Message)>` popped, delivered, shuffled),
// generalized from that file's toy two-message protocol to route any
// number of named reactors speaking the full paxoskv.Message set.
type Sim struct {
	rng       *rand.Rand
	reactors  map[paxoskv.Peer]paxoskv.Reactor
	inFlight  []simMessage
	now       time.Time
	lossRatio float64 // [0,1): probability each outbound message of a delivery is dropped instead of queued
	dupRatio  float64 // [0,1): probability an outbound message is queued twice
}

func NewSim(seed int64, now time.Time) *Sim {
	return &Sim{
		rng:      rand.New(rand.NewSource(seed)),
		reactors: make(map[paxoskv.Peer]paxoskv.Reactor),
		now:      now,
	}
}

func (s *Sim) SetLossRatio(r float64) { s.lossRatio = r }
func (s *Sim) SetDupRatio(r float64)  { s.dupRatio = r }

func (s *Sim) Register(peer paxoskv.Peer, r paxoskv.Reactor) {
	s.reactors[peer] = r
}

// Enqueue injects a message as if sent by from to to, the same seeding
// step main.rs performs before its chaos loop starts.
func (s *Sim) Enqueue(from, to paxoskv.Peer, msg paxoskv.Message) {
	s.inFlight = append(s.inFlight, simMessage{from: from, to: to, msg: msg})
}

// Tick broadcasts a paxoskv.Tick to every registered reactor, bounding
// worst-case round/request latency on an otherwise idle queue (spec
// §4.4's note on periodic tick injection).
func (s *Sim) Tick() {
	for peer := range s.reactors {
		s.Enqueue("", peer, paxoskv.Tick{})
	}
}

// Advance moves the simulated clock forward; every Receive call sees
// this time, so proposer round timeouts fire exactly as they would
// against a real clock. client.Client's request timeout is a wall-clock
// timer inside Submit and does not follow this clock.
func (s *Sim) Advance(d time.Duration) { s.now = s.now.Add(d) }

// Step delivers exactly one in-flight message, queues its reply
// effects (dropping or duplicating per the configured ratios), then
// reshuffles the whole queue — main.rs's `in_flight.shuffle(&mut rng)`
// — so delivery order within a step carries no guarantee beyond what
// the protocol itself must tolerate (spec §6: "neither order nor
// at-least-once delivery"). Reports whether it delivered anything.
func (s *Sim) Step() bool {
	if len(s.inFlight) == 0 {
		return false
	}
	idx := s.rng.Intn(len(s.inFlight))
	m := s.inFlight[idx]
	s.inFlight = append(s.inFlight[:idx], s.inFlight[idx+1:]...)

	r, ok := s.reactors[m.to]
	if !ok {
		return true
	}

	for _, ob := range r.Receive(s.now, m.from, m.msg) {
		if s.lossRatio > 0 && s.rng.Float64() < s.lossRatio {
			continue
		}
		s.inFlight = append(s.inFlight, simMessage{from: m.to, to: ob.To, msg: ob.Msg})
		if s.dupRatio > 0 && s.rng.Float64() < s.dupRatio {
			s.inFlight = append(s.inFlight, simMessage{from: m.to, to: ob.To, msg: ob.Msg})
		}
	}

	s.rng.Shuffle(len(s.inFlight), func(i, j int) {
		s.inFlight[i], s.inFlight[j] = s.inFlight[j], s.inFlight[i]
	})
	return true
}

// Run steps until the queue drains or maxSteps is reached, returning
// the number of steps actually taken. Tests pass a generous maxSteps so
// a protocol bug that never converges fails loudly instead of hanging.
func (s *Sim) Run(maxSteps int) int {
	n := 0
	for n < maxSteps && s.Step() {
		n++
	}
	return n
}

func (s *Sim) Pending() int { return len(s.inFlight) }
func (s *Sim) Now() time.Time { return s.now }
