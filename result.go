package paxoskv

import "fmt"

// ErrorKind enumerates the closed set of errors a client request can
// fail with (spec §7). These are outcomes of the protocol, not Go
// errors of a reactor call — a reactor's Receive never itself fails.
type ErrorKind int

const (
	ErrProposalRejected ErrorKind = iota
	ErrAcceptRejected
	ErrCasFailed
	ErrTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrProposalRejected:
		return "proposal-rejected"
	case ErrAcceptRejected:
		return "accept-rejected"
	case ErrCasFailed:
		return "cas-failed"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown-error"
	}
}

// ReqError carries the data each error kind needs (spec §7):
// ProposalRejected/AcceptRejected carry the higher ballot observed;
// CasFailed carries the observed value; Timeout carries nothing.
type ReqError struct {
	Kind     ErrorKind
	Last     Ballot
	Observed OptValue
}

func (e *ReqError) Error() string {
	switch e.Kind {
	case ErrProposalRejected, ErrAcceptRejected:
		return fmt.Sprintf("%v: last=%v", e.Kind, e.Last)
	case ErrCasFailed:
		return fmt.Sprintf("%v: observed=%v", e.Kind, e.Observed)
	default:
		return e.Kind.String()
	}
}

func (e *ReqError) IsRejectedProposal() bool { return e != nil && e.Kind == ErrProposalRejected }
func (e *ReqError) IsRejectedAccept() bool   { return e != nil && e.Kind == ErrAcceptRejected }
func (e *ReqError) IsFailedCas() bool        { return e != nil && e.Kind == ErrCasFailed }
func (e *ReqError) IsTimeout() bool          { return e != nil && e.Kind == ErrTimeout }

// Outcome is the client-facing result of a request: success with the
// (possibly absent) resulting value, or one of the ReqError kinds.
type Outcome struct {
	OK    bool
	Value OptValue
	Err   *ReqError
}

func Success(v OptValue) Outcome { return Outcome{OK: true, Value: v} }

func Failure(kind ErrorKind, last Ballot, observed OptValue) Outcome {
	return Outcome{Err: &ReqError{Kind: kind, Last: last, Observed: observed}}
}

func (o Outcome) String() string {
	if o.OK {
		return fmt.Sprintf("ok(%v)", o.Value)
	}
	return fmt.Sprintf("err(%v)", o.Err)
}

// PhaseResult is the acceptor's verdict on a single Prepare or Accept
// (spec §4.2): ok, or rejected carrying the acceptor's current promise
// so the proposer can fast-forward (spec §4.3, §9).
type PhaseResult struct {
	OK   bool
	Last Ballot
}

func PhaseOK() PhaseResult            { return PhaseResult{OK: true} }
func PhaseRejected(last Ballot) PhaseResult { return PhaseResult{OK: false, Last: last} }
