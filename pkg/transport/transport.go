// Package transport carries gateway messages over a concrete channel.
//
// Two transports satisfy the same contract: a persistent WebSocket that
// multiplexes all traffic over one connection, and an HTTP variant where
// each send is an individual request and pushed frames arrive through a
// per-session long-poll loop. Both feed every inbound frame through the
// same Sink, so correlation and routing behave identically regardless of
// the channel.
package transport

import (
	"context"

	"github.com/josephquek/janusgo/pkg/models"
)

// Sink receives decoded inbound frames from a transport. Deliver is called
// from the transport's read path and must not block; Closed is called once
// when the underlying channel fails.
type Sink interface {
	Deliver(msg *models.Message)
	Closed(err error)
}

// Transport is the wire contract shared by the WebSocket and long-poll
// variants.
type Transport interface {
	// Connect establishes the underlying channel.
	Connect(ctx context.Context) error

	// Send writes one outgoing message. Replies and pushed frames are
	// delivered through the Sink, never returned here.
	Send(ctx context.Context, msg *models.Message) error

	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// SessionPoller is implemented by transports that need an explicit receive
// loop per session (the long-poll variant). The connection starts a poll
// when a session is created and stops it when the session is destroyed.
type SessionPoller interface {
	StartPoll(sessionID uint64)
	StopPoll(sessionID uint64)
}
