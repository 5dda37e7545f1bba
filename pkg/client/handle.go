package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
	"github.com/josephquek/janusgo/pkg/protocol"
)

// HandleState tracks the handle lifecycle. Detached is terminal.
type HandleState int32

const (
	HandleAttached HandleState = iota
	HandleDetached
)

// Handle is a plugin instance attached within a session. It exposes the
// generic primitives plugin code composes: synchronous Send and the
// asynchronous event queue the dispatcher pushes into. The handle never
// interprets plugin payloads; JSEP and plugin data pass through verbatim
// for the media engine and plugin layer to consume.
type Handle struct {
	session *Session
	conn    *Connection
	id      uint64
	plugin  string
	log     zerolog.Logger

	mu    sync.Mutex
	state HandleState

	queue *protocol.EventQueue
}

func newHandle(session *Session, id uint64, plugin string) *Handle {
	return &Handle{
		session: session,
		conn:    session.conn,
		id:      id,
		plugin:  plugin,
		log:     session.log.With().Str("component", "handle").Uint64("handle_id", id).Logger(),
		state:   HandleAttached,
		queue:   protocol.NewEventQueue(),
	}
}

// ID returns the server-assigned handle identifier.
func (h *Handle) ID() uint64 {
	return h.id
}

// Plugin returns the plugin name this handle is bound to.
func (h *Handle) Plugin() string {
	return h.plugin
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send stamps the message with the owning session and handle identifiers
// and runs it through the connection. Fails deterministically once the
// handle is detached or its session destroyed.
func (h *Handle) Send(ctx context.Context, msg *models.Message, options ...SendOptions) (*models.Message, error) {
	if h.State() != HandleAttached {
		return nil, &models.ProtocolError{Op: msg.Janus, Message: "handle detached"}
	}
	msg.SessionID = h.session.ID()
	msg.HandleID = h.id
	return h.conn.Send(ctx, msg, options...)
}

// Message sends a plugin request (janus "message") with an optional JSEP
// payload. The returned frame is the synchronous reply: success with
// plugindata for synchronous plugin requests, ack for asynchronous ones
// whose real result follows on the event queue.
func (h *Handle) Message(ctx context.Context, body map[string]any, jsep map[string]any, options ...SendOptions) (*models.Message, error) {
	return h.Send(ctx, &models.Message{
		Janus: models.OpMessage,
		Body:  body,
		Jsep:  jsep,
	}, options...)
}

// Trickle forwards one ICE candidate to the gateway.
func (h *Handle) Trickle(ctx context.Context, candidate map[string]any) error {
	_, err := h.Send(ctx, &models.Message{Janus: models.OpTrickle, Candidate: candidate})
	return err
}

// TrickleMany forwards a batch of ICE candidates.
func (h *Handle) TrickleMany(ctx context.Context, candidates []any) error {
	_, err := h.Send(ctx, &models.Message{Janus: models.OpTrickle, Candidates: candidates})
	return err
}

// Next returns the oldest pending asynchronous event, blocking until one
// arrives, the handle dies, or ctx expires.
func (h *Handle) Next(ctx context.Context) (*models.Message, error) {
	return h.queue.Pop(ctx)
}

// Events returns a channel draining this handle's event queue until ctx is
// cancelled or the handle dies. Resubscribing after cancellation picks up
// from the still-pending events.
func (h *Handle) Events(ctx context.Context) <-chan *models.Message {
	ch := make(chan *models.Message)
	go func() {
		defer close(ch)
		for {
			msg, err := h.queue.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				// Hand the undelivered event back for the next subscriber.
				h.queue.PushFront(msg)
				return
			}
		}
	}()
	return ch
}

// PendingEvents returns the number of undelivered events.
func (h *Handle) PendingEvents() int {
	return h.queue.Len()
}

// Deliver implements protocol.EventSink; only the dispatcher calls it.
func (h *Handle) Deliver(msg *models.Message) {
	h.queue.Push(msg)
}

// Detach runs the detach exchange and unregisters the handle from its
// session. Idempotent after the first call. Local deregistration happens
// even when the server-side detach fails; the failure is logged and
// returned.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	if h.state == HandleDetached {
		h.mu.Unlock()
		return nil
	}
	h.state = HandleDetached
	h.mu.Unlock()

	_, err := h.conn.Send(ctx, &models.Message{
		Janus:     models.OpDetach,
		SessionID: h.session.ID(),
		HandleID:  h.id,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("server-side detach failed, deregistering anyway")
	}

	h.session.removeHandle(h.id)
	h.queue.Close(nil)

	h.log.Info().Msg("handle detached")
	return err
}

// invalidate tears the handle down locally after session destruction or
// connection loss.
func (h *Handle) invalidate(err error) {
	h.mu.Lock()
	if h.state == HandleDetached {
		h.mu.Unlock()
		return
	}
	h.state = HandleDetached
	h.mu.Unlock()

	h.queue.Close(err)
}
