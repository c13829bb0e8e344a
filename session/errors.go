package session

import (
	"errors"
	"fmt"
)

var (
	ErrHandshakeTimeout = errors.New("gateway handshake timed out")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrCancelled        = errors.New("request cancelled")
	ErrConnectionLost   = errors.New("gateway connection lost")
	ErrNotReady         = errors.New("session not ready")
	ErrClientIDInUse    = errors.New("client id in use")
	ErrWrongKind        = errors.New("operation does not apply to this request kind")

	// ErrInFlight rejects a second positions or open orders request while
	// one is outstanding; their replies carry no request id to tell them apart.
	ErrInFlight = errors.New("request of this kind already outstanding")
)

// SubmitError reports a plan that stopped partway through sending. Sent
// lists the ids already written; none of them carried the transmit flag
// unless Failed is the last node, so nothing is working at the gateway.
type SubmitError struct {
	Sent   []int64
	Failed int64
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit plan: order %d failed after sending %v: %v", e.Failed, e.Sent, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
