// Package proposer implements spec §4.3: the two-phase Paxos driver
// that multiplexes client requests into rounds, tallies quorums over
// two independently configurable acceptor sets, and resolves each
// round to a client response. Manager is grounded on the teacher's
// ProposerManager (paxos/proposermanager.go) for its per-instance arena
// and prometheus gauge/lifespan metrics shape, generalized from
// goshawkdb's multi-key transactional ballots down to single-decree
// Paxos over one opaque Key per round.
package proposer

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	tw "github.com/msackman/gotimerwheel"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rain168/paxoskv"
)

// timeoutWheelGranularity bounds how finely round deadlines are bucketed,
// the same granularity shape the teacher's VarManager uses for its own
// callback wheel (txnengine/varmanager.go: 25*time.Millisecond).
const timeoutWheelGranularity = 5 * time.Millisecond

// maxTimeoutEventsPerAdvance caps how many expired timeouts a single
// inbound message processes in one go, mirroring the teacher's beat()
// bound on AdvanceTo (txnengine/varmanager.go: 32) so one enormous
// backlog of expired rounds can't stall the reactor on one message.
const maxTimeoutEventsPerAdvance = 64

type Metrics struct {
	RoundsActive    prometheus.Gauge
	RoundsSucceeded prometheus.Counter
	RoundsFailed    prometheus.Counter
	RoundsTimedOut  prometheus.Counter
	RoundLifespan   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paxoskv_proposer_rounds_active",
		}),
		RoundsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_proposer_rounds_succeeded_total",
		}),
		RoundsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_proposer_rounds_failed_total",
		}),
		RoundsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_proposer_rounds_timed_out_total",
		}),
		RoundLifespan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paxoskv_proposer_round_lifespan_seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RoundsActive, m.RoundsSucceeded, m.RoundsFailed, m.RoundsTimedOut, m.RoundLifespan)
	}
	return m
}

type phase int

const (
	phase1 phase = iota
	phase2
)

// dedupKey identifies a client request for in-flight deduplication
// (spec §4.3, §4.4): resubmitting the same (client, id) while the first
// attempt is still in flight must not start a second round.
type dedupKey struct {
	client paxoskv.Peer
	id     uint64
}

// round is one proposer attempt at deciding a value for one client
// request (spec's glossary "Round"): a Phase1 prepare followed by a
// Phase2 accept. Rounds own no back-pointers to the Manager; the
// Manager owns all rounds exclusively (spec design note).
type round struct {
	key    dedupKey
	req    paxoskv.Req
	ballot paxoskv.Ballot

	phase     phase
	acceptors []paxoskv.Peer // snapshot captured when this phase started
	responded map[paxoskv.Peer]bool
	oks       int
	rejects   int
	lastReject paxoskv.Ballot

	bestAcceptedBallot paxoskv.Ballot
	bestAcceptedValue  paxoskv.OptValue

	proposedValue paxoskv.OptValue

	started time.Time
}

// Manager drives Paxos rounds on behalf of clients (spec §4.3). Each
// Manager is single-threaded: Receive is never called concurrently with
// itself, so the round arena and acceptor-set fields need no locking
// (spec §5).
type Manager struct {
	logger  log.Logger
	metrics *Metrics
	issuer  *paxoskv.BallotIssuer

	proposeAcceptors []paxoskv.Peer
	acceptAcceptors  []paxoskv.Peer

	byDedup  map[dedupKey]*round
	byBallot map[paxoskv.Ballot]*round

	roundTimeout time.Duration

	// wheel tracks per-round deadlines (spec §4.4's timeout scan),
	// replacing an O(n) walk of byDedup on every inbound message with
	// the teacher's scheduled-callback shape (txnengine/varmanager.go's
	// tw.TimerWheel). Lazily initialized on the first call to Receive so
	// its clock basis matches whatever now the caller actually drives
	// this Manager with (wall clock, or transport.Sim's virtual clock).
	wheel   *tw.TimerWheel
	pending []paxoskv.Outbound
}

func NewManager(id uuid.UUID, logger log.Logger, metrics *Metrics, roundTimeout time.Duration) *Manager {
	if roundTimeout <= 0 {
		roundTimeout = paxoskv.DefaultRoundTimeout
	}
	return &Manager{
		logger:       logger,
		metrics:      metrics,
		issuer:       paxoskv.NewBallotIssuer(id),
		byDedup:      make(map[dedupKey]*round),
		byBallot:     make(map[paxoskv.Ballot]*round),
		roundTimeout: roundTimeout,
	}
}

func majority(n int) int { return n/2 + 1 }

func (m *Manager) Receive(now time.Time, from paxoskv.Peer, msg paxoskv.Message) []paxoskv.Outbound {
	m.ensureWheel(now)
	m.wheel.AdvanceTo(now, maxTimeoutEventsPerAdvance)
	out := m.drainPending()

	switch req := msg.(type) {
	case paxoskv.ClientRequest:
		out = append(out, m.handleClientRequest(now, from, req)...)
	case paxoskv.PrepareRes:
		out = append(out, m.handlePrepareRes(from, req)...)
	case paxoskv.AcceptRes:
		out = append(out, m.handleAcceptRes(from, req)...)
	case paxoskv.SetProposeAcceptors:
		m.proposeAcceptors = req.Acceptors
	case paxoskv.SetAcceptAcceptors:
		m.acceptAcceptors = req.Acceptors
	case paxoskv.Tick:
		// the AdvanceTo above already covers this; Tick exists purely to
		// keep the wheel advancing on an otherwise idle channel.
	default:
		m.logger.Log("msg", "ignoring unexpected message", "from", from, "type", fmt.Sprintf("%T", msg))
	}
	return out
}

func (m *Manager) handleClientRequest(now time.Time, from paxoskv.Peer, req paxoskv.ClientRequest) []paxoskv.Outbound {
	key := dedupKey{client: from, id: req.ID}
	if _, inFlight := m.byDedup[key]; inFlight {
		// Duplicate of an in-flight request: the original round will
		// answer it. Starting a second round here would violate
		// idempotent-retry (spec §8 property 3).
		return nil
	}

	acceptors := m.proposeAcceptors
	r := &round{
		key:       key,
		req:       req.Req,
		ballot:    m.issuer.Next(),
		phase:     phase1,
		acceptors: acceptors,
		responded: make(map[paxoskv.Peer]bool, len(acceptors)),
		started:   now,
	}
	m.byDedup[key] = r
	m.byBallot[r.ballot] = r
	m.scheduleTimeout(r)
	if m.metrics != nil {
		m.metrics.RoundsActive.Inc()
	}

	out := make([]paxoskv.Outbound, 0, len(acceptors))
	for _, a := range acceptors {
		out = append(out, paxoskv.Outbound{To: a, Msg: paxoskv.PrepareReq{Ballot: r.ballot, Key: req.Req.ReqKey()}})
	}
	return out
}

func (m *Manager) handlePrepareRes(from paxoskv.Peer, res paxoskv.PrepareRes) []paxoskv.Outbound {
	r, ok := m.byBallot[res.ReqBallot]
	if !ok || r.phase != phase1 {
		// Stale response for an evicted or already-advanced round (spec
		// §6: "the proposer must tolerate receiving Phase2 responses for
		// an old round after starting a new one").
		return nil
	}
	if r.responded[from] {
		// A duplicate delivery of the same responder's answer (spec §6:
		// the transport may duplicate arbitrarily); already tallied.
		return nil
	}
	r.responded[from] = true

	if res.Result.OK {
		return m.onPrepareOK(r, res)
	}
	return m.onPrepareRejected(r, res.Result.Last)
}

func (m *Manager) onPrepareOK(r *round, res paxoskv.PrepareRes) []paxoskv.Outbound {
	r.oks++
	if !res.LastAcceptedBallot.Equal(paxoskv.ZeroBallot) && r.bestAcceptedBallot.Less(res.LastAcceptedBallot) {
		r.bestAcceptedBallot = res.LastAcceptedBallot
		r.bestAcceptedValue = res.LastAcceptedValue
	}

	if r.oks < majority(len(r.acceptors)) {
		return nil
	}

	value, failure := resolveProposedValue(r.req, r.bestAcceptedValue)
	if failure != nil {
		m.evict(r)
		if m.metrics != nil {
			m.metrics.RoundsFailed.Inc()
		}
		return []paxoskv.Outbound{{To: r.key.client, Msg: paxoskv.ClientResponse{ID: r.key.id, Result: *failure}}}
	}

	r.proposedValue = value
	r.phase = phase2
	r.acceptors = m.acceptAcceptors
	r.responded = make(map[paxoskv.Peer]bool, len(r.acceptors))
	r.oks = 0
	r.rejects = 0

	out := make([]paxoskv.Outbound, 0, len(r.acceptors))
	for _, a := range r.acceptors {
		out = append(out, paxoskv.Outbound{To: a, Msg: paxoskv.AcceptReq{Ballot: r.ballot, Key: r.req.ReqKey(), Value: value}})
	}
	return out
}

func (m *Manager) onPrepareRejected(r *round, last paxoskv.Ballot) []paxoskv.Outbound {
	r.rejects++
	r.lastReject = paxoskv.Max(r.lastReject, last)
	m.issuer.ObserveRejection(last)

	if r.rejects < majority(len(r.acceptors)) {
		return nil
	}
	m.evict(r)
	if m.metrics != nil {
		m.metrics.RoundsFailed.Inc()
	}
	result := paxoskv.Failure(paxoskv.ErrProposalRejected, r.lastReject, nil)
	return []paxoskv.Outbound{{To: r.key.client, Msg: paxoskv.ClientResponse{ID: r.key.id, Result: result}}}
}

// resolveProposedValue computes the value Phase2 must propose (spec
// §4.3's five-way table) and returns a non-nil failure for the one case
// that can fail outright: a Cas whose expectation the best accepted
// value doesn't meet.
func resolveProposedValue(req paxoskv.Req, best paxoskv.OptValue) (paxoskv.OptValue, *paxoskv.Outcome) {
	switch r := req.(type) {
	case paxoskv.GetReq:
		return best, nil
	case paxoskv.SetReq:
		v := r.V
		return paxoskv.Some(v), nil
	case paxoskv.DelReq:
		return nil, nil
	case paxoskv.CasReq:
		if paxoskv.ValueEqual(best, r.Expected) {
			return r.New, nil
		}
		failure := paxoskv.Failure(paxoskv.ErrCasFailed, paxoskv.ZeroBallot, best)
		return nil, &failure
	default:
		panic(fmt.Sprintf("proposer: unknown request type %T", req))
	}
}

func (m *Manager) handleAcceptRes(from paxoskv.Peer, res paxoskv.AcceptRes) []paxoskv.Outbound {
	r, ok := m.byBallot[res.Ballot]
	if !ok || r.phase != phase2 {
		return nil
	}
	if r.responded[from] {
		return nil
	}
	r.responded[from] = true

	if res.Result.OK {
		r.oks++
		if r.oks < majority(len(r.acceptors)) {
			return nil
		}
		m.evict(r)
		if m.metrics != nil {
			m.metrics.RoundsSucceeded.Inc()
		}
		result := paxoskv.Success(r.proposedValue)
		return []paxoskv.Outbound{{To: r.key.client, Msg: paxoskv.ClientResponse{ID: r.key.id, Result: result}}}
	}

	r.rejects++
	r.lastReject = paxoskv.Max(r.lastReject, res.Result.Last)
	m.issuer.ObserveRejection(res.Result.Last)
	if r.rejects < majority(len(r.acceptors)) {
		return nil
	}
	m.evict(r)
	if m.metrics != nil {
		m.metrics.RoundsFailed.Inc()
	}
	result := paxoskv.Failure(paxoskv.ErrAcceptRejected, r.lastReject, nil)
	return []paxoskv.Outbound{{To: r.key.client, Msg: paxoskv.ClientResponse{ID: r.key.id, Result: result}}}
}

// ensureWheel lazily starts the timer wheel on the first now this
// Manager ever sees, rather than at construction time, so its notion of
// "start" lines up with whatever clock the caller actually drives
// Receive with (real or simulated).
func (m *Manager) ensureWheel(now time.Time) {
	if m.wheel == nil {
		m.wheel = tw.NewTimerWheel(now, timeoutWheelGranularity)
	}
}

// scheduleTimeout arranges for r to time out at m.roundTimeout from now
// (spec §4.4: "on every inbound message, before handling, the proposer
// scans in-flight rounds whose deadline has passed"), replacing that
// O(n) scan with a single scheduled callback the teacher's
// tw.TimerWheel fires for us (txnengine/varmanager.go's
// ScheduleCallback/ScheduleEventIn shape). The callback only fires
// side effects through m.pending, since AdvanceTo runs synchronously
// inside Receive and has no return channel of its own.
func (m *Manager) scheduleTimeout(r *round) {
	if err := m.wheel.ScheduleEventIn(m.roundTimeout, func() {
		if cur, ok := m.byDedup[r.key]; !ok || cur != r {
			// Already resolved or evicted by an earlier event in this same
			// AdvanceTo batch; nothing left to time out.
			return
		}
		m.evict(r)
		if m.metrics != nil {
			m.metrics.RoundsTimedOut.Inc()
		}
		result := paxoskv.Failure(paxoskv.ErrTimeout, paxoskv.ZeroBallot, nil)
		m.pending = append(m.pending, paxoskv.Outbound{To: r.key.client, Msg: paxoskv.ClientResponse{ID: r.key.id, Result: result}})
	}); err != nil {
		m.logger.Log("msg", "failed to schedule round timeout", "key", r.key, "error", err)
	}
}

func (m *Manager) drainPending() []paxoskv.Outbound {
	if len(m.pending) == 0 {
		return nil
	}
	out := m.pending
	m.pending = nil
	return out
}

func (m *Manager) evict(r *round) {
	delete(m.byDedup, r.key)
	delete(m.byBallot, r.ballot)
	if m.metrics != nil {
		m.metrics.RoundsActive.Dec()
		m.metrics.RoundLifespan.Observe(time.Since(r.started).Seconds())
	}
}

func (m *Manager) Status() string {
	return fmt.Sprintf("proposer.Manager(rounds=%d, propose_acceptors=%d, accept_acceptors=%d)",
		len(m.byDedup), len(m.proposeAcceptors), len(m.acceptAcceptors))
}
