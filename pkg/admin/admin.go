// Package admin implements the gateway's admin/monitor API: session and
// handle inspection plus stored-token management. Every request carries
// the admin secret; the secret itself is never logged.
package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/client"
	"github.com/josephquek/janusgo/pkg/models"
)

// Client wraps a connection against the admin endpoint.
type Client struct {
	conn   *client.Connection
	secret string
	log    zerolog.Logger
}

// Dial connects to the admin endpoint. WebSocket URLs use the
// "janus-admin-protocol" subprotocol.
func Dial(ctx context.Context, url, secret string, config client.Config, log zerolog.Logger) (*Client, error) {
	config.Subprotocol = "janus-admin-protocol"
	conn, err := client.Dial(ctx, url, config, log)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, secret, log), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *client.Connection, secret string, log zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		secret: secret,
		log:    log.With().Str("component", "admin").Logger(),
	}
}

// Close tears the underlying connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(ctx context.Context, msg *models.Message) (*models.Message, error) {
	msg.AdminSecret = c.secret
	return c.conn.Send(ctx, msg)
}

// Ping checks the admin API is responsive.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.send(ctx, &models.Message{Janus: "ping"})
	if err != nil {
		return err
	}
	if reply.Janus != models.StatusPong {
		return &models.ProtocolError{Op: "ping", Message: fmt.Sprintf("unexpected reply %q", reply.Janus)}
	}
	return nil
}

// Info returns the gateway's server_info frame.
func (c *Client) Info(ctx context.Context) (*models.Message, error) {
	return c.send(ctx, &models.Message{Janus: models.OpInfo})
}

// ListSessions returns the identifiers of all live sessions.
func (c *Client) ListSessions(ctx context.Context) ([]uint64, error) {
	reply, err := c.send(ctx, &models.Message{Janus: "list_sessions"})
	if err != nil {
		return nil, err
	}
	var out struct {
		Sessions []uint64 `json:"sessions"`
	}
	if err := json.Unmarshal(reply.Raw, &out); err != nil {
		return nil, &models.ProtocolError{Op: "list_sessions", Message: "reply missing sessions list"}
	}
	return out.Sessions, nil
}

// ListHandles returns the handle identifiers attached in a session.
func (c *Client) ListHandles(ctx context.Context, sessionID uint64) ([]uint64, error) {
	reply, err := c.send(ctx, &models.Message{Janus: "list_handles", SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Handles []uint64 `json:"handles"`
	}
	if err := json.Unmarshal(reply.Raw, &out); err != nil {
		return nil, &models.ProtocolError{Op: "list_handles", Message: "reply missing handles list"}
	}
	return out.Handles, nil
}

// HandleInfo returns the gateway's diagnostic dump for one handle.
func (c *Client) HandleInfo(ctx context.Context, sessionID, handleID uint64) (map[string]any, error) {
	reply, err := c.send(ctx, &models.Message{
		Janus:     "handle_info",
		SessionID: sessionID,
		HandleID:  handleID,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Info map[string]any `json:"info"`
	}
	if err := json.Unmarshal(reply.Raw, &out); err != nil || out.Info == nil {
		return nil, &models.ProtocolError{Op: "handle_info", Message: "reply missing info object"}
	}
	return out.Info, nil
}

// AddToken registers a stored token, optionally scoped to plugins.
func (c *Client) AddToken(ctx context.Context, token string, plugins []string) error {
	_, err := c.send(ctx, &models.Message{Janus: "add_token", Token: token, Plugins: plugins})
	return err
}

// RemoveToken revokes a stored token.
func (c *Client) RemoveToken(ctx context.Context, token string) error {
	_, err := c.send(ctx, &models.Message{Janus: "remove_token", Token: token})
	return err
}

// StoredToken is one entry of the gateway's token list.
type StoredToken struct {
	Token          string   `json:"token"`
	AllowedPlugins []string `json:"allowed_plugins"`
}

// ListTokens returns the gateway's stored tokens.
func (c *Client) ListTokens(ctx context.Context) ([]StoredToken, error) {
	reply, err := c.send(ctx, &models.Message{Janus: "list_tokens"})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			Tokens []StoredToken `json:"tokens"`
		} `json:"data"`
	}
	if err := json.Unmarshal(reply.Raw, &out); err != nil {
		return nil, &models.ProtocolError{Op: "list_tokens", Message: "reply missing token list"}
	}
	return out.Data.Tokens, nil
}
