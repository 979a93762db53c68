// Package acceptor implements spec §4.2: the acceptor half of Paxos.
// Manager is a single-threaded Reactor; Dispatcher shards many Managers
// across goroutines keyed by a hash of the key so unrelated keys make
// progress independently, generalizing the teacher's AcceptorDispatcher
// (paxos/acceptordispatcher.go), which shards its fixed-size TxnId the
// same way across a pool of single-threaded executors.
package acceptor

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rain168/paxoskv"
	"github.com/rain168/paxoskv/storage"
)

// Metrics mirrors the shape of the teacher's per-component prometheus
// gauges/counters (e.g. ProposerManager's txnsActive/txnsCompleted
// pattern), specialised to what an acceptor can observe.
type Metrics struct {
	Prepares  prometheus.Counter
	Accepts   prometheus.Counter
	Rejects   prometheus.Counter
	CasRetries prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, shard string) *Metrics {
	m := &Metrics{
		Prepares: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_acceptor_prepares_total", ConstLabels: prometheus.Labels{"shard": shard},
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_acceptor_accepts_total", ConstLabels: prometheus.Labels{"shard": shard},
		}),
		Rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_acceptor_rejects_total", ConstLabels: prometheus.Labels{"shard": shard},
		}),
		CasRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paxoskv_acceptor_cas_retries_total", ConstLabels: prometheus.Labels{"shard": shard},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Prepares, m.Accepts, m.Rejects, m.CasRetries)
	}
	return m
}

// MaxCasAttempts bounds the retry-on-lost-race loop of §4.2: a CAS can
// only lose to a concurrent writer observing the same promise, and
// every loser retry strictly raises the ballot floor it competes under,
// so the loop always terminates in practice well under this cap.
const MaxCasAttempts = 8

// Manager is one shard: a single-threaded Paxos acceptor reactor over a
// storage.Storage, handling every key whose hash routes to it (spec
// §4.2). It keeps no in-memory copy of acceptor state beyond what a
// single Receive call needs — Storage is the source of truth, re-read
// on every message, so restart recovery needs nothing from Manager:
// Dispatcher.Load only walks each store to check it reads cleanly
// (spec's "acceptors must survive restart": durability lives in
// Storage, not in Manager).
type Manager struct {
	logger  log.Logger
	store   storage.Storage
	metrics *Metrics
}

func NewManager(logger log.Logger, store storage.Storage, metrics *Metrics) *Manager {
	return &Manager{logger: logger, store: store, metrics: metrics}
}

// Receive implements paxoskv.Reactor. An acceptor's verdict depends
// only on durable state, never on wall-clock time, so now is unused
// here but kept in the signature to satisfy the shared Reactor contract
// (spec §6).
func (m *Manager) Receive(now time.Time, from paxoskv.Peer, msg paxoskv.Message) []paxoskv.Outbound {
	switch req := msg.(type) {
	case paxoskv.PrepareReq:
		return m.handlePrepare(from, req)
	case paxoskv.AcceptReq:
		return m.handleAccept(from, req)
	default:
		m.logger.Log("msg", "ignoring unexpected message", "from", from, "type", fmt.Sprintf("%T", msg))
		return nil
	}
}

func (m *Manager) handlePrepare(from paxoskv.Peer, req paxoskv.PrepareReq) []paxoskv.Outbound {
	m.metrics.Prepares.Inc()
	for attempt := 0; attempt < MaxCasAttempts; attempt++ {
		cur, err := m.store.Get(req.Key)
		if err != nil {
			m.logger.Log("msg", "storage read failed", "key", req.Key, "error", err)
			return nil
		}

		// Prepare grants only on a strictly higher ballot than already
		// promised (spec §4.2): unlike Accept's >= check below, a Prepare
		// at exactly the promised ballot is a no-op resubmission, not a
		// new round, and must be rejected.
		if !cur.PromisedBallot.Less(req.Ballot) {
			m.metrics.Rejects.Inc()
			return []paxoskv.Outbound{{To: from, Msg: paxoskv.PrepareRes{
				ReqBallot:          req.Ballot,
				LastAcceptedBallot: cur.AcceptedBallot,
				LastAcceptedValue:  cur.AcceptedValue,
				Result:             paxoskv.PhaseRejected(cur.PromisedBallot),
			}}}
		}

		next := cur
		next.PromisedBallot = req.Ballot
		ok, err := m.store.CAS(req.Key, cur, next)
		if err != nil {
			m.logger.Log("msg", "storage cas failed", "key", req.Key, "error", err)
			return nil
		}
		if !ok {
			m.metrics.CasRetries.Inc()
			continue
		}

		return []paxoskv.Outbound{{To: from, Msg: paxoskv.PrepareRes{
			ReqBallot:          req.Ballot,
			LastAcceptedBallot: next.AcceptedBallot,
			LastAcceptedValue:  next.AcceptedValue,
			Result:             paxoskv.PhaseOK(),
		}}}
	}
	m.logger.Log("msg", "exhausted cas retries on prepare", "key", req.Key, "ballot", req.Ballot)
	return nil
}

func (m *Manager) handleAccept(from paxoskv.Peer, req paxoskv.AcceptReq) []paxoskv.Outbound {
	m.metrics.Accepts.Inc()
	for attempt := 0; attempt < MaxCasAttempts; attempt++ {
		cur, err := m.store.Get(req.Key)
		if err != nil {
			m.logger.Log("msg", "storage read failed", "key", req.Key, "error", err)
			return nil
		}

		if req.Ballot.Less(cur.PromisedBallot) {
			m.metrics.Rejects.Inc()
			return []paxoskv.Outbound{{To: from, Msg: paxoskv.AcceptRes{
				Ballot: req.Ballot,
				Result: paxoskv.PhaseRejected(cur.PromisedBallot),
			}}}
		}

		next := storage.Record{
			PromisedBallot: req.Ballot,
			AcceptedBallot: req.Ballot,
			AcceptedValue:  req.Value,
		}
		ok, err := m.store.CAS(req.Key, cur, next)
		if err != nil {
			m.logger.Log("msg", "storage cas failed", "key", req.Key, "error", err)
			return nil
		}
		if !ok {
			m.metrics.CasRetries.Inc()
			continue
		}

		return []paxoskv.Outbound{{To: from, Msg: paxoskv.AcceptRes{
			Ballot: req.Ballot,
			Result: paxoskv.PhaseOK(),
		}}}
	}
	m.logger.Log("msg", "exhausted cas retries on accept", "key", req.Key, "ballot", req.Ballot)
	return nil
}

// Status renders a human-readable snapshot, the same ad hoc text report
// shape as the teacher's Acceptor.Status/StatusConsumer.
func (m *Manager) Status() string {
	return "acceptor.Manager (storage-backed, no cached state)"
}
