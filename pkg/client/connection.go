// Package client implements the session and handle lifecycle on top of the
// routing core: a Connection multiplexes concurrent requests over one
// transport, sessions are created and kept alive against it, and handles
// expose generic request/response and event primitives to plugin code.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
	"github.com/josephquek/janusgo/pkg/protocol"
	"github.com/josephquek/janusgo/pkg/transport"
)

// Config holds connection-level configuration.
type Config struct {
	// DefaultTimeout bounds every request that does not carry its own
	// timeout option.
	DefaultTimeout time.Duration

	// KeepaliveInterval is the period of each session's keepalive timer.
	// It must stay below the gateway's session timeout (60s by default).
	KeepaliveInterval time.Duration

	// Optional credentials, attached verbatim to every outgoing message.
	APISecret string
	Token     string

	// Subprotocol overrides the WebSocket subprotocol (admin clients use
	// "janus-admin-protocol"). Empty means the public API protocol.
	Subprotocol string
}

// DefaultConfig returns the defaults: 30s request timeout, 30s keepalive
// against the gateway's 60s session timeout.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:    30 * time.Second,
		KeepaliveInterval: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
}

// SendOptions carries per-request options.
type SendOptions struct {
	Timeout time.Duration
}

// Connection owns the transport, the dispatcher, and the credentials. Many
// callers may send concurrently; each suspends only on its own transaction
// slot, never on another caller's reply.
type Connection struct {
	transport  transport.Transport
	dispatcher *protocol.Dispatcher
	config     Config
	log        zerolog.Logger
}

// New assembles a connection from an already-constructed transport and
// dispatcher. The transport's sink must be Sink(dispatcher).
func New(t transport.Transport, d *protocol.Dispatcher, config Config, log zerolog.Logger) *Connection {
	config.applyDefaults()
	return &Connection{
		transport:  t,
		dispatcher: d,
		config:     config,
		log:        log.With().Str("component", "connection").Logger(),
	}
}

// Dial connects to a gateway endpoint, selecting the transport from the
// URL scheme: ws/wss for the persistent socket, http/https for long-poll.
func Dial(ctx context.Context, url string, config Config, log zerolog.Logger) (*Connection, error) {
	config.applyDefaults()
	dispatcher := protocol.NewDispatcher(log)

	var t transport.Transport
	switch {
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		wsCfg := transport.DefaultWebSocketConfig()
		if config.Subprotocol != "" {
			wsCfg.Subprotocol = config.Subprotocol
		}
		t = transport.NewWebSocket(url, Sink(dispatcher), log, wsCfg)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		t = transport.NewLongPoll(url, Sink(dispatcher), log)
	default:
		return nil, &models.ValidationError{Field: "url", Message: fmt.Sprintf("unsupported scheme in %q", url)}
	}

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return New(t, dispatcher, config, log), nil
}

// Sink adapts a dispatcher to the transport's frame sink.
func Sink(d *protocol.Dispatcher) transport.Sink {
	return sinkAdapter{d}
}

type sinkAdapter struct {
	d *protocol.Dispatcher
}

func (s sinkAdapter) Deliver(msg *models.Message) { s.d.Dispatch(msg) }
func (s sinkAdapter) Closed(err error)            { s.d.ConnectionLost(err) }

// Dispatcher exposes the routing core, mainly for tests and the admin
// client.
func (c *Connection) Dispatcher() *protocol.Dispatcher {
	return c.dispatcher
}

// Send transmits one message and blocks the caller until the terminal
// synchronous reply arrives, the timeout elapses, or the connection fails.
// The transaction identifier is always assigned here; a caller-supplied
// value is overridden with a warning. Configured credentials are attached
// before the message hits the wire. A gateway error reply surfaces as a
// ProtocolError.
func (c *Connection) Send(ctx context.Context, msg *models.Message, options ...SendOptions) (*models.Message, error) {
	if msg.Janus == "" {
		return nil, &models.ValidationError{Field: "janus", Message: "operation name is required"}
	}
	if msg.Transaction != "" {
		c.log.Warn().Str("transaction", msg.Transaction).Msg("caller-supplied transaction overridden")
	}
	msg.Transaction = uuid.NewString()

	if c.config.APISecret != "" {
		msg.APISecret = c.config.APISecret
	}
	if c.config.Token != "" {
		msg.Token = c.config.Token
	}

	timeout := c.config.DefaultTimeout
	if len(options) > 0 && options[0].Timeout > 0 {
		timeout = options[0].Timeout
	}

	table := c.dispatcher.Transactions()
	slot, ok := table.Register(msg.Transaction)
	if !ok {
		return nil, &models.ProtocolError{Op: msg.Janus, Message: "transaction identifier collision"}
	}

	c.log.Debug().
		Str("janus", msg.Janus).
		Str("transaction", msg.Transaction).
		Uint64("session_id", msg.SessionID).
		Uint64("handle_id", msg.HandleID).
		Msg("sending request")

	if err := c.transport.Send(ctx, msg); err != nil {
		table.Remove(msg.Transaction)
		var cerr *models.ConnectivityError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &models.ConnectivityError{Message: "send failed", Cause: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-slot.Resolve:
		if reply.Janus == models.StatusError {
			return nil, models.NewProtocolError(msg.Janus, reply.Error)
		}
		return reply, nil
	case err := <-slot.Reject:
		return nil, err
	case <-timer.C:
		table.Remove(msg.Transaction)
		return nil, &models.TimeoutError{Transaction: msg.Transaction, Timeout: timeout}
	case <-ctx.Done():
		table.Remove(msg.Transaction)
		return nil, ctx.Err()
	}
}

// CreateSession runs the create exchange, registers the new session for
// event routing, starts its keepalive timer, and, on a long-poll
// transport, starts the session's receive loop.
func (c *Connection) CreateSession(ctx context.Context) (*Session, error) {
	reply, err := c.Send(ctx, &models.Message{Janus: models.OpCreate})
	if err != nil {
		return nil, err
	}
	if reply.Data == nil || reply.Data.ID == 0 {
		return nil, &models.ProtocolError{Op: models.OpCreate, Message: "reply missing session identifier"}
	}

	session := newSession(c, reply.Data.ID)
	c.dispatcher.RegisterSession(session.ID(), session)
	if poller, ok := c.transport.(transport.SessionPoller); ok {
		poller.StartPoll(session.ID())
	}
	session.startKeepalive(c.config.KeepaliveInterval)

	c.log.Info().Uint64("session_id", session.ID()).Msg("session created")
	return session, nil
}

// Info runs the info exchange and returns the server_info reply.
func (c *Connection) Info(ctx context.Context) (*models.Message, error) {
	return c.Send(ctx, &models.Message{Janus: models.OpInfo})
}

// destroySession removes a session from the routing registry and stops its
// poll loop. Wire traffic is the session's own responsibility; it calls
// this after (or despite) the server-side destroy.
func (c *Connection) destroySession(id uint64) {
	c.dispatcher.UnregisterSession(id)
	if poller, ok := c.transport.(transport.SessionPoller); ok {
		poller.StopPoll(id)
	}
}

// Close tears down the transport, fails every pending request with a
// connectivity error, and invalidates all sessions.
func (c *Connection) Close() error {
	err := c.transport.Close()
	c.dispatcher.ConnectionLost(errors.New("connection closed"))
	return err
}
