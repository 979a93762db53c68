package paxoskv

import (
	"time"
)

// Package-wide defaults. Individual components accept overrides through
// their constructors; these are the values used when the embedder (or
// cmd/paxosd) doesn't ask for anything else.
const (
	Version = "dev"

	// DefaultRoundTimeout bounds how long a proposer round, counted from
	// its client request across both phases, may run before the proposer
	// evicts the round and responds with a timeout error (spec §4.3, §9
	// open question 2).
	DefaultRoundTimeout = 250 * time.Millisecond

	// DefaultClientTimeout bounds how long a client awaits a correlated
	// response before surfacing a local timeout (spec §4.4).
	DefaultClientTimeout = time.Second

	// DefaultTickInterval is how often a transport should inject a
	// synthetic tick message so deadline scanning isn't starved on an
	// idle channel (spec §5).
	DefaultTickInterval = 50 * time.Millisecond

	RetryBackoffMin = 10 * time.Millisecond
	RetryBackoffMax = 500 * time.Millisecond

	HTTPProfilePort = 6060

	// DefaultPrometheusPort is the port cmd/paxosd serves /metrics on.
	DefaultPrometheusPort = 9090
)
