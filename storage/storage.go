// Package storage holds the durable per-key acceptor record (spec §3,
// §4.1): promised ballot, accepted ballot, accepted value. Every mutation
// goes through CAS so a caller can enforce the acceptor's promise
// invariants without a separate lock spanning the read and the write.
package storage

import (
	"fmt"

	"github.com/rain168/paxoskv"
)

// Record is one key's acceptor state. The zero Record is the state of a
// key that has never been prepared or accepted.
type Record struct {
	PromisedBallot paxoskv.Ballot
	AcceptedBallot paxoskv.Ballot
	AcceptedValue  paxoskv.OptValue
}

func (r Record) Equal(o Record) bool {
	return r.PromisedBallot.Equal(o.PromisedBallot) &&
		r.AcceptedBallot.Equal(o.AcceptedBallot) &&
		paxoskv.ValueEqual(r.AcceptedValue, o.AcceptedValue)
}

func (r Record) String() string {
	return fmt.Sprintf("Record{promised=%v, accepted=%v/%v}", r.PromisedBallot, r.AcceptedBallot, r.AcceptedValue)
}

// Storage is the durability seam of an acceptor (spec §4.1). Get never
// fails on a missing key: it returns the zero Record. CAS succeeds only
// when the stored record equals old bit-for-bit, and otherwise leaves the
// store untouched; both outcomes must be durable before either returns
// control to the acceptor, so a crash immediately after a successful CAS
// can never be observed as "never happened" (spec §3's durability
// invariant).
type Storage interface {
	Get(key paxoskv.Key) (Record, error)
	CAS(key paxoskv.Key, old, new Record) (bool, error)
	// Load walks every durable record, handing each to fn.
	// acceptor.Dispatcher.Load calls it at boot with a no-op fn, only to
	// check that each store can be read (spec §4.1's "acceptors must
	// survive restart").
	Load(fn func(key paxoskv.Key, rec Record)) error
	Close() error
}

// Fault wraps a lower-level I/O error so callers can distinguish "the
// operation was durably refused by protocol" (CAS returning false) from
// "the operation could not be attempted at all" (Fault), per spec §7's
// storage-error note.
type Fault struct {
	Op  string
	Key paxoskv.Key
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("storage: %s %v: %v", f.Op, f.Key, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }
