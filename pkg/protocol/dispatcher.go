// Package protocol implements the transaction-correlation and event-routing
// core of the gateway client.
//
// Every inbound frame is first decoded to the shared message envelope. The
// dispatcher then decides where it goes: frames with a synchronous status
// whose transaction token is still pending complete that request; frames
// addressed to a known handle land in that handle's event queue; frames
// addressed to a known session are delivered as session-level events;
// anything else is logged and dropped. First match wins, so a token the
// gateway reuses for an ack followed by an event fulfills the caller
// exactly once and the later frames flow through event routing.
package protocol

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
)

// EventSink receives event frames routed to one handle. Deliver must never
// block the caller.
type EventSink interface {
	Deliver(msg *models.Message)
}

// SessionRoute is the dispatcher's view of a registered session: a
// session-level event sink that also resolves its own handle identifiers.
type SessionRoute interface {
	EventSink

	// HandleSink resolves a handle identifier owned by this session.
	HandleSink(handleID uint64) (EventSink, bool)

	// Invalidate marks the session destroyed after connection loss. No
	// further frame will be routed to it.
	Invalidate(err error)
}

// Dispatcher owns the transaction table and the session registry and is
// their single writer together with the explicit register/unregister
// lifecycle calls. It never interprets payloads, only addressing fields.
type Dispatcher struct {
	transactions *TransactionTable

	mu       sync.RWMutex
	sessions map[uint64]SessionRoute

	log zerolog.Logger
}

func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		transactions: NewTransactionTable(),
		sessions:     make(map[uint64]SessionRoute),
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
}

// Transactions exposes the table to the connection's send path.
func (d *Dispatcher) Transactions() *TransactionTable {
	return d.transactions
}

// RegisterSession adds a session to the routing registry.
func (d *Dispatcher) RegisterSession(id uint64, route SessionRoute) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[id] = route
}

// UnregisterSession removes a session. Once it returns, no further frame
// can be routed to that session or any handle it owned.
func (d *Dispatcher) UnregisterSession(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// SessionCount returns the number of registered sessions.
func (d *Dispatcher) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Dispatch routes one inbound frame. It never fails and never blocks the
// inbound stream; an unroutable frame is logged and dropped.
func (d *Dispatcher) Dispatch(msg *models.Message) {
	// 1. Terminal synchronous reply for an outstanding transaction.
	if msg.Transaction != "" && models.IsSynchronousReply(msg.Janus) {
		if d.transactions.Complete(msg.Transaction, msg) {
			return
		}
	}

	// 2. Handle-scoped event.
	if handleID := msg.HandleEvent(); handleID != 0 {
		if sink, ok := d.findHandle(msg.SessionID, handleID); ok {
			sink.Deliver(msg)
			return
		}
	}

	// 3. Session-level event.
	if msg.SessionID != 0 {
		d.mu.RLock()
		session, ok := d.sessions[msg.SessionID]
		d.mu.RUnlock()
		if ok {
			session.Deliver(msg)
			return
		}
	}

	// 4. Unroutable. A synchronous status here usually means the request
	// already timed out, or the gateway reused a transaction token.
	d.log.Warn().
		Str("janus", msg.Janus).
		Str("transaction", msg.Transaction).
		Uint64("session_id", msg.SessionID).
		Uint64("sender", msg.Sender).
		Msg("dropping unroutable frame")
}

// findHandle resolves a handle identifier, preferring the session named by
// the frame and falling back to scanning the registry for frames that omit
// session addressing.
func (d *Dispatcher) findHandle(sessionID, handleID uint64) (EventSink, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if sessionID != 0 {
		if session, ok := d.sessions[sessionID]; ok {
			if sink, ok := session.HandleSink(handleID); ok {
				return sink, true
			}
		}
		return nil, false
	}
	for _, session := range d.sessions {
		if sink, ok := session.HandleSink(handleID); ok {
			return sink, true
		}
	}
	return nil, false
}

// ConnectionLost fails every pending transaction with a connectivity error
// and invalidates every registered session. Called by the transport layer
// when the underlying channel dies.
func (d *Dispatcher) ConnectionLost(err error) {
	cerr := &models.ConnectivityError{Message: "connection lost", Cause: err}

	failed := d.transactions.FailAll(cerr)

	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[uint64]SessionRoute)
	d.mu.Unlock()

	for _, session := range sessions {
		session.Invalidate(cerr)
	}

	d.log.Warn().
		Err(err).
		Int("failed_transactions", failed).
		Int("invalidated_sessions", len(sessions)).
		Msg("connection lost")
}
