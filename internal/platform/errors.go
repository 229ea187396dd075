package platform

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream call failure for retry and logging decisions.
type Kind string

const (
	// KindUnavailable marks transient network or HTTP transport failures.
	KindUnavailable Kind = "unavailable"
	// KindRejected marks well-formed platform refusals (e.g. auction not found).
	KindRejected Kind = "rejected"
	// KindAuthFailure marks invalid or expired credentials; needs operator attention.
	KindAuthFailure Kind = "auth_failure"
	// KindBidTooLow marks a submitted amount under the platform's current floor.
	KindBidTooLow Kind = "bid_too_low"
)

// ErrSignerRequired is returned by the Artifacte connector when a bid push
// needs an on-chain signature and no custodial keypair is configured. The loop
// turns it into an operator alert rather than a state transition.
var ErrSignerRequired = errors.New("on-chain bid requires a configured signer keypair")

// UpstreamError wraps a failed call against either platform with its kind.
type UpstreamError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	return &UpstreamError{Kind: KindUnavailable, Op: op, Err: err}
}

func rejected(op string, err error) error {
	return &UpstreamError{Kind: KindRejected, Op: op, Err: err}
}

func authFailure(op string, err error) error {
	return &UpstreamError{Kind: KindAuthFailure, Op: op, Err: err}
}

func bidTooLow(op string, err error) error {
	return &UpstreamError{Kind: KindBidTooLow, Op: op, Err: err}
}

// KindOf extracts the failure kind, or "" for errors outside this taxonomy.
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// IsTransient reports whether err is worth retrying. Only transport-level
// unavailability qualifies; rejections, auth failures, and low bids are durable.
func IsTransient(err error) bool {
	return KindOf(err) == KindUnavailable
}
