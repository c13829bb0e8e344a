// Package broker defines the capability the session layer needs from a
// gateway transport: connect, send tagged requests and receive a single
// ordered stream of typed events.
package broker

import (
	"context"
)

// Link is one transport connection to the gateway. Implementations must
// deliver events in arrival order on the Events channel and close it when
// the transport ends, whether by Disconnect or by a read failure.
type Link interface {
	// Connect establishes the transport and performs the API handshake.
	// It must fail fast with a *ConnectionError and never retry.
	Connect(ctx context.Context, host string, port int, clientID int) error

	// Disconnect tears the transport down. Calling it more than once is
	// harmless.
	Disconnect() error

	// Send writes one request to the gateway.
	Send(ctx context.Context, req Request) error

	// Events is the inbound event stream.
	Events() <-chan Event
}

// Paper and live gateway ports.
const (
	PaperPort = 4002
	LivePort  = 4001
)

// DefaultHost is the loopback address the gateway usually listens on.
const DefaultHost = "127.0.0.1"
