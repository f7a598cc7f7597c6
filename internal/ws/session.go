// Package ws owns live WebSocket connections: their lifecycle, their
// outbound queues and the registry that maps users to connections.
package ws

import (
	"context"
	"errors"

	"github.com/pliu/chatterbox/internal/models"
)

var (
	ErrClosed          = errors.New("connection closed")
	ErrSlowConsumer    = errors.New("send buffer full")
	ErrUnauthenticated = errors.New("connection has no user")
)

// State is the lifecycle position of a connection. It only moves forward.
type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live connection as seen by the rest of the server.
type Session interface {
	ID() string
	UserID() models.UserID
	State() State
	// Send queues payload without blocking.
	Send(payload []byte) error
}

// Handler processes one inbound frame. Calls for the same session are
// sequential.
type Handler interface {
	HandleMessage(ctx context.Context, s Session, raw []byte)
}

type HandlerFunc func(ctx context.Context, s Session, raw []byte)

func (f HandlerFunc) HandleMessage(ctx context.Context, s Session, raw []byte) {
	f(ctx, s, raw)
}
