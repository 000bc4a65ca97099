package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by reads and writes on a transport that is not open.
var ErrNotConnected = errors.New("transport is not connected")

// Transport is a message-oriented duplex connection to one server endpoint.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	// Close releases the connection, announcing a normal closure to the peer when possible.
	Close() error
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
}

// Factory builds an unconnected transport for an endpoint.
type Factory func(address string, port int) Transport
