package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/client"
	"github.com/josephquek/janusgo/pkg/models"
)

// wsGateway is a minimal in-process gateway speaking the WebSocket
// transport: lifecycle requests get their synchronous replies, plugin
// messages get an ack followed by a pushed event.
type wsGateway struct {
	t *testing.T

	mu          sync.Mutex
	subprotocol string
	sessionID   uint64
	handleID    uint64
}

func (g *wsGateway) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"janus-protocol"}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	g.mu.Lock()
	g.subprotocol = conn.Subprotocol()
	g.mu.Unlock()

	var writeMu sync.Mutex
	send := func(frame map[string]any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, _ := json.Marshal(frame)
		conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		txn, _ := msg["transaction"].(string)

		switch msg["janus"] {
		case "info":
			send(map[string]any{"janus": "server_info", "transaction": txn, "name": "Janus Gateway"})
		case "create":
			g.mu.Lock()
			g.sessionID = 7001
			g.mu.Unlock()
			send(map[string]any{"janus": "success", "transaction": txn, "data": map[string]any{"id": 7001}})
		case "attach":
			g.mu.Lock()
			g.handleID = 8001
			g.mu.Unlock()
			send(map[string]any{"janus": "success", "transaction": txn, "session_id": 7001, "data": map[string]any{"id": 8001}})
		case "message":
			send(map[string]any{"janus": "ack", "transaction": txn, "session_id": 7001})
			send(map[string]any{
				"janus": "event", "transaction": txn, "session_id": 7001, "sender": 8001,
				"plugindata": map[string]any{
					"plugin": "janus.plugin.echotest",
					"data":   map[string]any{"echotest": "event", "result": "ok"},
				},
			})
		case "keepalive", "trickle":
			send(map[string]any{"janus": "ack", "transaction": txn, "session_id": 7001})
		case "detach", "destroy":
			send(map[string]any{"janus": "success", "transaction": txn, "session_id": 7001})
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	gateway := &wsGateway{t: t}
	server := httptest.NewServer(http.HandlerFunc(gateway.handler))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, url, client.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	info, err := conn.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Janus != models.StatusServerInfo {
		t.Errorf("Expected server_info, got %q", info.Janus)
	}

	session, err := conn.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID() != 7001 {
		t.Errorf("Expected session 7001, got %d", session.ID())
	}

	handle, err := session.Attach(ctx, "janus.plugin.echotest")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if handle.ID() != 8001 {
		t.Errorf("Expected handle 8001, got %d", handle.ID())
	}

	// The ack answers the request; the pushed event with the same
	// transaction lands on the handle's queue.
	reply, err := handle.Message(ctx, map[string]any{"audio": true}, nil)
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if reply.Janus != models.StatusAck {
		t.Errorf("Expected ack reply, got %q", reply.Janus)
	}

	event, err := handle.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if result, _ := event.PluginPayload()["result"].(string); result != "ok" {
		t.Errorf("Unexpected event payload: %+v", event.PluginPayload())
	}

	if err := session.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	gateway.mu.Lock()
	subprotocol := gateway.subprotocol
	gateway.mu.Unlock()
	if subprotocol != "janus-protocol" {
		t.Errorf("Expected janus-protocol subprotocol, got %q", subprotocol)
	}
}
