// Wire message model for the Janus gateway API.
//
// Every message exchanged with the gateway is a JSON object whose "janus"
// field names the operation (outbound) or the status (inbound). Outbound
// requests carry a client-generated "transaction" token; the gateway echoes
// it on the terminal synchronous reply. Inbound frames additionally carry
// "session_id" and "sender" so that unsolicited events can be routed to the
// session or handle they belong to.
package models

import (
	"encoding/json"
	"fmt"
)

// Operation names understood by the gateway.
const (
	OpCreate    = "create"
	OpDestroy   = "destroy"
	OpAttach    = "attach"
	OpDetach    = "detach"
	OpMessage   = "message"
	OpTrickle   = "trickle"
	OpKeepalive = "keepalive"
	OpClaim     = "claim"
	OpInfo      = "info"
)

// Inbound status values.
const (
	StatusAck        = "ack"
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusServerInfo = "server_info"
	StatusEvent      = "event"
	StatusWebRTCUp   = "webrtcup"
	StatusMedia      = "media"
	StatusHangup     = "hangup"
	StatusSlowLink   = "slowlink"
	StatusDetached   = "detached"
	StatusTimeout    = "timeout"
	StatusPong       = "pong"

	// StatusKeepalive is returned by an expired long poll that saw no
	// traffic.
	StatusKeepalive = "keepalive"
)

// Message is the envelope for every frame, outbound and inbound. Fields not
// relevant to a given frame are left at their zero value and omitted from
// the JSON encoding.
type Message struct {
	Janus       string         `json:"janus"`
	Transaction string         `json:"transaction,omitempty"`
	SessionID   uint64         `json:"session_id,omitempty"`
	HandleID    uint64         `json:"handle_id,omitempty"`
	Sender      uint64         `json:"sender,omitempty"`
	Plugin      string         `json:"plugin,omitempty"`
	Body        map[string]any `json:"body,omitempty"`
	Jsep        map[string]any `json:"jsep,omitempty"`
	Candidate   map[string]any `json:"candidate,omitempty"`
	Candidates  []any          `json:"candidates,omitempty"`
	Data        *SuccessData   `json:"data,omitempty"`
	PluginData  *PluginData    `json:"plugindata,omitempty"`
	Error       *ErrorData     `json:"error,omitempty"`
	Hint        string         `json:"hint,omitempty"`
	Reason      string         `json:"reason,omitempty"`

	// Plugins scopes an admin add_token request.
	Plugins []string `json:"plugins,omitempty"`

	// Credentials, attached by the connection. Never logged.
	APISecret   string `json:"apisecret,omitempty"`
	Token       string `json:"token,omitempty"`
	AdminSecret string `json:"admin_secret,omitempty"`

	// Raw is the undecoded frame as received, kept so callers can pull
	// fields that live outside the envelope (admin replies, server info).
	Raw json.RawMessage `json:"-"`
}

// SuccessData carries the server-assigned identifier on create/attach
// replies.
type SuccessData struct {
	ID uint64 `json:"id"`
}

// PluginData wraps a plugin-scoped payload on events and synchronous
// plugin replies.
type PluginData struct {
	Plugin string         `json:"plugin"`
	Data   map[string]any `json:"data"`
}

// ErrorData is the gateway's error object.
type ErrorData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e *ErrorData) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

// IsSynchronousReply reports whether a frame with this status terminates a
// pending transaction. Any other status is an asynchronous event even when
// it carries a transaction token (the gateway reuses the token on events
// that follow an ack).
func IsSynchronousReply(status string) bool {
	switch status {
	case StatusAck, StatusSuccess, StatusError, StatusServerInfo, StatusPong:
		return true
	}
	return false
}

// HandleEvent returns the routable handle identifier of an inbound frame.
// Events address handles through "sender"; a zero value means the frame is
// not handle-scoped.
func (m *Message) HandleEvent() uint64 {
	if m.Sender != 0 {
		return m.Sender
	}
	return m.HandleID
}

// PluginPayload returns the plugin data map of an event, or nil.
func (m *Message) PluginPayload() map[string]any {
	if m.PluginData == nil {
		return nil
	}
	return m.PluginData.Data
}

// Decode parses a raw frame received from a transport.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	msg.Raw = append(json.RawMessage(nil), data...)
	return &msg, nil
}

// Encode serializes a message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
