// Command paxosd bootstraps one node of the replicated key-value
// register: an acceptor shard pool, a proposer, or both, talking UDP.
// Flags and logger setup follow the teacher's cmd/goshawkdb/main.go
// shape (stdlib flag, go-kit logfmt logger, optional pprof and
// Prometheus HTTP endpoints), generalized from a certificate-gated
// multi-key database server down to this simpler per-key register.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rain168/paxoskv"
	"github.com/rain168/paxoskv/acceptor"
	"github.com/rain168/paxoskv/proposer"
	"github.com/rain168/paxoskv/storage"
	"github.com/rain168/paxoskv/transport"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if err := run(logger); err != nil {
		logger.Log("msg", "fatal error", "error", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	var (
		bind           string
		advertise      string
		dataDir        string
		role           string
		shards         int
		proposeAcceptors string
		acceptAcceptors  string
		promPort       int
		httpProf       bool
		roundTimeout   time.Duration
	)

	flag.StringVar(&bind, "bind", "0.0.0.0:7000", "host:port to listen for UDP traffic on.")
	flag.StringVar(&advertise, "advertise", "", "Host to advertise to peers, if different from -bind's host.")
	flag.StringVar(&dataDir, "dir", "", "Path to data directory for acceptor durable storage (empty: in-memory, test-only).")
	flag.StringVar(&role, "role", "combined", "Node role: acceptor, proposer, or combined.")
	flag.IntVar(&shards, "shards", 4, "Number of acceptor shards (only used when role includes acceptor).")
	flag.StringVar(&proposeAcceptors, "propose-acceptors", "", "Comma-separated initial propose_acceptors peer list (only used when role includes proposer).")
	flag.StringVar(&acceptAcceptors, "accept-acceptors", "", "Comma-separated initial accept_acceptors peer list (only used when role includes proposer).")
	flag.IntVar(&promPort, "prometheusPort", paxoskv.DefaultPrometheusPort, "Port to serve Prometheus metrics on. 0 disables it.")
	flag.BoolVar(&httpProf, "httpProfile", false, fmt.Sprintf("Enable Go HTTP profiling on port localhost:%d.", paxoskv.HTTPProfilePort))
	flag.DurationVar(&roundTimeout, "round-timeout", paxoskv.DefaultRoundTimeout, "Proposer round deadline.")
	flag.Parse()

	logger.Log("msg", "starting", "version", paxoskv.Version, "args", fmt.Sprint(os.Args))

	bindHost, _, err := net.SplitHostPort(bind)
	if err != nil {
		return fmt.Errorf("bad -bind %q: %w", bind, err)
	}
	advertiseIP, err := calculateAdvertiseIP(bindHost, advertise, logger)
	if err != nil {
		return err
	}
	logger.Log("msg", "resolved advertise address", "ip", advertiseIP.String())

	reg := prometheus.NewRegistry()
	if promPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			addr := fmt.Sprintf(":%d", promPort)
			logger.Log("msg", "serving prometheus metrics", "addr", addr)
			logger.Log("pprofResult", http.ListenAndServe(addr, mux))
		}()
	}
	if httpProf {
		go func() {
			addr := fmt.Sprintf("localhost:%d", paxoskv.HTTPProfilePort)
			logger.Log("msg", "serving pprof", "addr", addr)
			logger.Log("pprofResult", http.ListenAndServe(addr, nil))
		}()
	}

	transportUDP, err := transport.ListenUDP(logger, bind)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer transportUDP.Close()

	r, err := buildReactor(logger, reg, role, shards, dataDir, proposeAcceptors, acceptAcceptors, roundTimeout)
	if err != nil {
		return err
	}

	logger.Log("msg", "startup complete", "role", role, "bind", bind)
	transportUDP.Run(r)
	return nil
}

// compositeReactor lets a single node run both halves of the protocol:
// Prepare/Accept traffic routes to the acceptor dispatcher, everything
// else (client requests, phase responses, reconfiguration, ticks)
// routes to the proposer. A node running only one role wraps a nil
// counterpart and ignores what it can't handle.
type compositeReactor struct {
	acceptors *acceptor.Dispatcher
	proposers *proposer.Manager
}

func (c *compositeReactor) Receive(now time.Time, from paxoskv.Peer, msg paxoskv.Message) []paxoskv.Outbound {
	switch msg.(type) {
	case paxoskv.PrepareReq, paxoskv.AcceptReq:
		if c.acceptors == nil {
			return nil
		}
		return c.acceptors.Receive(now, from, msg)
	default:
		if c.proposers == nil {
			return nil
		}
		return c.proposers.Receive(now, from, msg)
	}
}

func buildReactor(logger log.Logger, reg prometheus.Registerer, role string, shards int, dataDir, proposeAcceptors, acceptAcceptors string, roundTimeout time.Duration) (paxoskv.Reactor, error) {
	c := &compositeReactor{}

	if role == "acceptor" || role == "combined" {
		stores := make([]storage.Storage, shards)
		for i := range stores {
			if dataDir == "" {
				stores[i] = storage.NewMemory()
				continue
			}
			opts := storage.DefaultLMDBOptions(filepath.Join(dataDir, fmt.Sprintf("shard-%d", i)))
			if err := os.MkdirAll(opts.Path, 0750); err != nil {
				return nil, fmt.Errorf("create shard dir: %w", err)
			}
			lmdb, err := storage.OpenLMDB(opts)
			if err != nil {
				return nil, fmt.Errorf("open lmdb shard %d: %w", i, err)
			}
			stores[i] = lmdb
		}
		c.acceptors = acceptor.NewDispatcher(log.With(logger, "component", "acceptor"), reg, stores)
		if err := c.acceptors.Load(); err != nil {
			return nil, fmt.Errorf("load acceptor storage: %w", err)
		}
	}

	if role == "proposer" || role == "combined" {
		id := uuid.New()
		metrics := proposer.NewMetrics(reg)
		pm := proposer.NewManager(id, log.With(logger, "component", "proposer"), metrics, roundTimeout)
		if peers := parsePeers(proposeAcceptors); len(peers) > 0 {
			pm.Receive(time.Now(), "", paxoskv.SetProposeAcceptors{Acceptors: peers})
		}
		if peers := parsePeers(acceptAcceptors); len(peers) > 0 {
			pm.Receive(time.Now(), "", paxoskv.SetAcceptAcceptors{Acceptors: peers})
		}
		c.proposers = pm
	}

	return c, nil
}

func parsePeers(csv string) []paxoskv.Peer {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	peers := make([]paxoskv.Peer, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, paxoskv.Peer(p))
		}
	}
	return peers
}
