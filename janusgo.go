// Package janusgo is a client for the Janus WebRTC gateway signaling API.
//
// The library is layered:
//   - Protocol layer: transaction correlation and event routing — every
//     inbound frame either completes the request that caused it or is
//     routed by session/handle identity to its owner.
//   - Transport layer: the same contract over a persistent WebSocket or
//     HTTP long-poll.
//   - Client layer: session and handle lifecycle (create, attach,
//     keepalive, destroy) on top of the correlation core.
//   - Plugin layer: VideoRoom and VideoCall operations composed from the
//     generic handle primitives.
//
// Media negotiation is out of scope: JSEP payloads and ICE candidates pass
// through verbatim between the gateway and an external media engine.
//
// Example usage:
//
//	conn, err := janusgo.Dial(ctx, "wss://gateway.example.org/janus",
//		janusgo.DefaultConfig(), log.Logger)
//	if err != nil {
//		log.Fatal().Err(err).Msg("dial failed")
//	}
//	defer conn.Close()
//
//	session, err := conn.CreateSession(ctx)
//	if err != nil {
//		log.Fatal().Err(err).Msg("create failed")
//	}
//	defer session.Destroy(ctx)
//
//	room, err := plugins.AttachVideoRoom(ctx, session)
//	if err != nil {
//		log.Fatal().Err(err).Msg("attach failed")
//	}
//	if err := room.CreateRoom(ctx, 1234, nil); err != nil {
//		log.Fatal().Err(err).Msg("create room failed")
//	}
package janusgo

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/client"
	"github.com/josephquek/janusgo/pkg/config"
	"github.com/josephquek/janusgo/pkg/models"
	"github.com/josephquek/janusgo/pkg/protocol"
	"github.com/josephquek/janusgo/pkg/transport"
)

// Version is the library version.
const Version = "0.3.0"

// Re-export main types for convenient access

// Client layer types (main API)
type (
	Connection  = client.Connection
	Session     = client.Session
	Handle      = client.Handle
	Config      = client.Config
	SendOptions = client.SendOptions
)

// Routing core types
type (
	Dispatcher       = protocol.Dispatcher
	TransactionTable = protocol.TransactionTable
	EventQueue       = protocol.EventQueue
)

// Model types
type (
	Message           = models.Message
	ErrorData         = models.ErrorData
	ValidationError   = models.ValidationError
	ConnectivityError = models.ConnectivityError
	TimeoutError      = models.TimeoutError
	ProtocolError     = models.ProtocolError
)

// Transport types
type (
	Transport = transport.Transport
	WebSocket = transport.WebSocket
	LongPoll  = transport.LongPoll
)

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return client.DefaultConfig()
}

// Dial connects to a gateway endpoint, selecting the transport from the
// URL scheme.
func Dial(ctx context.Context, url string, cfg Config, log zerolog.Logger) (*Connection, error) {
	return client.Dial(ctx, url, cfg, log)
}

// DialFile loads a YAML configuration file and connects to the endpoint
// it names.
func DialFile(ctx context.Context, path string, log zerolog.Logger) (*Connection, error) {
	fileCfg, err := config.ParseFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.APISecret = fileCfg.APISecret
	cfg.Token = fileCfg.Token
	cfg.DefaultTimeout = fileCfg.DefaultTimeout.Std()
	cfg.KeepaliveInterval = fileCfg.KeepaliveInterval.Std()
	return client.Dial(ctx, fileCfg.URL, cfg, log)
}
