package broker

import (
	"fmt"
)

// ConnectionError is a transport failure while connecting. It is never
// retried internally.
type ConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Tier classifies gateway error codes.
type Tier int

const (
	TierError Tier = iota
	TierWarning
	TierInfo
)

func (t Tier) String() string {
	switch t {
	case TierInfo:
		return "info"
	case TierWarning:
		return "warning"
	default:
		return "error"
	}
}

// Farm connection status and similar notices.
var infoCodes = map[int]bool{
	2104: true, 2106: true, 2107: true, 2108: true, 2119: true, 2158: true,
}

var warningCodes = map[int]bool{
	10268: true, 2102: true, 2103: true, 2110: true, 399: true,
}

// TierOf classifies a code. Anything not listed is an error.
func TierOf(code int) Tier {
	switch {
	case infoCodes[code]:
		return TierInfo
	case warningCodes[code]:
		return TierWarning
	default:
		return TierError
	}
}

// GatewayError is an error message reported by the gateway for a request
// or order id.
type GatewayError struct {
	ID      int64
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %d (id %d): %s", e.Tier(), e.Code, e.ID, e.Message)
}

func (e *GatewayError) Tier() Tier { return TierOf(e.Code) }

// IsFailure is true only for error tier codes; informational and warning
// codes never fail a request.
func (e *GatewayError) IsFailure() bool { return e.Tier() == TierError }

// AsGatewayError converts an error event.
func (e Error) AsGatewayError() *GatewayError {
	return &GatewayError{ID: e.ID, Code: e.Code, Message: e.Message}
}
