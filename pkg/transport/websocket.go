package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
)

// WebSocketConfig holds configuration for the persistent-socket transport.
type WebSocketConfig struct {
	// Subprotocol announced during the handshake. The gateway requires
	// "janus-protocol" on the public API and "janus-admin-protocol" on
	// the admin API.
	Subprotocol      string
	HandshakeTimeout time.Duration
}

// DefaultWebSocketConfig returns the configuration for the public API.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Subprotocol:      "janus-protocol",
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebSocket multiplexes all traffic, requests and pushed events alike,
// over one persistent connection. Routing is left entirely to the Sink.
type WebSocket struct {
	url    string
	sink   Sink
	config WebSocketConfig
	log    zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocket creates the persistent-socket transport. Frames received on
// the connection are decoded and handed to sink.
func NewWebSocket(url string, sink Sink, log zerolog.Logger, config ...WebSocketConfig) *WebSocket {
	cfg := DefaultWebSocketConfig()
	if len(config) > 0 {
		cfg = config[0]
		if cfg.Subprotocol == "" {
			cfg.Subprotocol = "janus-protocol"
		}
		if cfg.HandshakeTimeout <= 0 {
			cfg.HandshakeTimeout = 10 * time.Second
		}
	}
	return &WebSocket{
		url:    url,
		sink:   sink,
		config: cfg,
		log:    log.With().Str("component", "transport.websocket").Logger(),
		closed: make(chan struct{}),
	}
}

// Connect dials the gateway and starts the read pump.
func (t *WebSocket) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.HandshakeTimeout,
		Subprotocols:     []string{t.config.Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return &models.ConnectivityError{Message: fmt.Sprintf("websocket dial %s failed", t.url), Cause: err}
	}
	t.conn = conn

	go t.readPump()
	return nil
}

// Send serializes one message onto the connection. Writes are serialized;
// gorilla connections support one concurrent writer only.
func (t *WebSocket) Send(ctx context.Context, msg *models.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &models.ConnectivityError{Message: "websocket write failed", Cause: err}
	}
	return nil
}

// Close shuts the connection down. The read pump exits without reporting
// a failure to the sink.
func (t *WebSocket) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *WebSocket) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				// Deliberate shutdown.
			default:
				t.log.Warn().Err(err).Msg("websocket read failed")
				t.sink.Closed(err)
			}
			return
		}

		msg, err := models.Decode(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		t.sink.Deliver(msg)
	}
}
