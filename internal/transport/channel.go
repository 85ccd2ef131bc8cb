// Package transport provides the realtime duplex channel used to exchange
// chat payloads with the remote peer.
package transport

import (
	"context"
	"errors"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
)

// ErrNotConnected is returned by Send when the channel is not connected.
var ErrNotConnected = errors.New("transport not connected")

// EventKind distinguishes the two notifications a channel produces.
type EventKind string

const (
	// EventState signals a connection state transition.
	EventState EventKind = "state"
	// EventMessage carries an inbound chat payload.
	EventMessage EventKind = "message"
)

// Event is a single notification delivered on the channel's event stream.
type Event struct {
	Kind  EventKind
	State domain.ConnectionState
	Text  string
}

// Channel abstracts a realtime duplex connection to a single remote
// endpoint. All notifications are delivered on one event stream to a
// single consumer; the channel never reconnects on its own.
type Channel interface {
	// Connect initiates the connection asynchronously. Idempotent while
	// already connecting or connected; the outcome is observed as state
	// events, never as a return value.
	Connect(ctx context.Context)

	// Disconnect terminates the connection. Safe to call at any time;
	// subsequent sends fail with ErrNotConnected.
	Disconnect()

	// Send transmits a chat payload best-effort. It fails with
	// ErrNotConnected when the channel is not connected and never buffers
	// or retries internally.
	Send(ctx context.Context, text string) error

	// Events returns the channel's single inbound event stream.
	Events() <-chan Event
}
