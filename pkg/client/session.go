package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
	"github.com/josephquek/janusgo/pkg/protocol"
)

// SessionState tracks the session lifecycle. Destroyed is terminal.
type SessionState int32

const (
	SessionActive SessionState = iota
	SessionDestroyed
)

// Session is a server-side conversation scope. It owns its handle registry
// and its keepalive timer, and receives session-level events (timeout
// warnings, errors) that are not addressed to a specific handle.
type Session struct {
	conn *Connection
	id   uint64
	log  zerolog.Logger

	mu      sync.Mutex
	state   SessionState
	handles map[uint64]*Handle

	events *protocol.EventQueue

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}
}

func newSession(conn *Connection, id uint64) *Session {
	return &Session{
		conn:          conn,
		id:            id,
		log:           conn.log.With().Str("component", "session").Uint64("session_id", id).Logger(),
		state:         SessionActive,
		handles:       make(map[uint64]*Handle),
		events:        protocol.NewEventQueue(),
		keepaliveStop: make(chan struct{}),
		keepaliveDone: make(chan struct{}),
	}
}

// ID returns the server-assigned session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attach creates a plugin handle within this session. The exchange is
// atomic from the caller's perspective: on any failure no handle is left
// registered.
func (s *Session) Attach(ctx context.Context, plugin string) (*Handle, error) {
	if plugin == "" {
		return nil, &models.ValidationError{Field: "plugin", Message: "plugin name is required"}
	}
	if s.State() != SessionActive {
		return nil, &models.ProtocolError{Op: models.OpAttach, Message: "session destroyed"}
	}

	reply, err := s.conn.Send(ctx, &models.Message{
		Janus:     models.OpAttach,
		SessionID: s.id,
		Plugin:    plugin,
	})
	if err != nil {
		return nil, err
	}
	if reply.Data == nil || reply.Data.ID == 0 {
		return nil, &models.ProtocolError{Op: models.OpAttach, Message: "reply missing handle identifier"}
	}

	handle := newHandle(s, reply.Data.ID, plugin)

	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		// Destroy raced the attach; the server-side handle died with the
		// session, so only the local object needs to go.
		handle.invalidate(&models.ProtocolError{Op: models.OpAttach, Message: "session destroyed"})
		return nil, &models.ProtocolError{Op: models.OpAttach, Message: "session destroyed"}
	}
	s.handles[handle.ID()] = handle
	s.mu.Unlock()

	s.log.Info().Uint64("handle_id", handle.ID()).Str("plugin", plugin).Msg("handle attached")
	return handle, nil
}

// Destroy runs the destroy exchange and tears the session down locally.
// Idempotent: the second call is a no-op. The keepalive timer is stopped
// deterministically before the exchange, so no keepalive can race the
// destroy. Local deregistration happens even when the server-side destroy
// fails; the failure is logged and returned.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionDestroyed {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionDestroyed
	close(s.keepaliveStop)
	handles := s.handles
	s.handles = make(map[uint64]*Handle)
	s.mu.Unlock()

	// Wait out an in-flight keepalive so nothing races the destroy.
	<-s.keepaliveDone

	_, err := s.conn.Send(ctx, &models.Message{Janus: models.OpDestroy, SessionID: s.id})
	if err != nil {
		s.log.Warn().Err(err).Msg("server-side destroy failed, deregistering anyway")
	}

	for _, handle := range handles {
		handle.invalidate(&models.ProtocolError{Op: models.OpDestroy, Message: "session destroyed"})
	}
	s.events.Close(nil)
	s.conn.destroySession(s.id)

	s.log.Info().Msg("session destroyed")
	return err
}

// Events returns session-level events pushed by the gateway: timeout
// warnings, claim results, session errors.
func (s *Session) Events(ctx context.Context) (*models.Message, error) {
	return s.events.Pop(ctx)
}

// PendingEvents returns the number of undelivered session-level events.
func (s *Session) PendingEvents() int {
	return s.events.Len()
}

// Deliver implements protocol.SessionRoute: session-scoped frames land in
// the session's own queue.
func (s *Session) Deliver(msg *models.Message) {
	s.events.Push(msg)
}

// HandleSink implements protocol.SessionRoute.
func (s *Session) HandleSink(handleID uint64) (protocol.EventSink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[handleID]
	if !ok {
		return nil, false
	}
	return handle, true
}

// Invalidate implements protocol.SessionRoute: connection loss destroys
// the session without wire traffic.
func (s *Session) Invalidate(err error) {
	s.mu.Lock()
	if s.state == SessionDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = SessionDestroyed
	close(s.keepaliveStop)
	handles := s.handles
	s.handles = make(map[uint64]*Handle)
	s.mu.Unlock()

	for _, handle := range handles {
		handle.invalidate(err)
	}
	s.events.Close(err)
}

// removeHandle unregisters a detached handle.
func (s *Session) removeHandle(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// startKeepalive launches the recurring keepalive timer. A failed
// keepalive is logged, never fatal: the gateway's session timeout is
// authoritative, not a single missed beat.
func (s *Session) startKeepalive(interval time.Duration) {
	go func() {
		defer close(s.keepaliveDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.keepaliveStop:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.conn.config.DefaultTimeout)
			_, err := s.conn.Send(ctx, &models.Message{Janus: models.OpKeepalive, SessionID: s.id})
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("keepalive failed")
			}
		}
	}()
}
