package plugins

import (
	"context"

	"github.com/josephquek/janusgo/pkg/client"
	"github.com/josephquek/janusgo/pkg/models"
)

// VideoCallPlugin is the gateway's one-to-one video call plugin.
const VideoCallPlugin = "janus.plugin.videocall"

// VideoCall drives one videocall handle. All calls are asynchronous: the
// gateway acks the request and answers with a videocall event.
type VideoCall struct {
	handle *client.Handle
}

// AttachVideoCall attaches a videocall handle within the session.
func AttachVideoCall(ctx context.Context, session *client.Session) (*VideoCall, error) {
	handle, err := session.Attach(ctx, VideoCallPlugin)
	if err != nil {
		return nil, err
	}
	return &VideoCall{handle: handle}, nil
}

// Handle exposes the underlying handle for event consumption and trickle.
func (v *VideoCall) Handle() *client.Handle {
	return v.handle
}

// Detach releases the handle.
func (v *VideoCall) Detach(ctx context.Context) error {
	return v.handle.Detach(ctx)
}

// awaitEvent sends the request and waits for the videocall event whose
// "event" result field matches want.
func (v *VideoCall) awaitEvent(ctx context.Context, body, jsep map[string]any, want string) (*models.Message, error) {
	op := body["request"].(string)
	if _, err := v.handle.Message(ctx, body, jsep); err != nil {
		return nil, err
	}

	for {
		msg, err := v.handle.Next(ctx)
		if err != nil {
			return nil, err
		}
		payload := msg.PluginPayload()
		if payload == nil {
			continue
		}
		if code, ok := payload["error_code"]; ok {
			perr := &models.ProtocolError{Op: op, Message: "plugin rejected request"}
			if n, ok := code.(float64); ok {
				perr.Code = int(n)
			}
			if reason, ok := payload["error"].(string); ok {
				perr.Reason = reason
			}
			return nil, perr
		}
		result, _ := payload["result"].(map[string]any)
		if event, ok := result["event"].(string); ok && event == want {
			return msg, nil
		}
	}
}

// Register claims a username on the plugin.
func (v *VideoCall) Register(ctx context.Context, username string) error {
	_, err := v.awaitEvent(ctx, map[string]any{"request": "register", "username": username}, nil, "registered")
	return err
}

// Call rings another registered user with the media engine's offer JSEP.
// The accepted event, when the peer picks up, carries the answer JSEP.
func (v *VideoCall) Call(ctx context.Context, username string, offer map[string]any) (map[string]any, error) {
	event, err := v.awaitEvent(ctx, map[string]any{"request": "call", "username": username}, offer, "accepted")
	if err != nil {
		return nil, err
	}
	return event.Jsep, nil
}

// Accept answers an incoming call with the media engine's answer JSEP.
func (v *VideoCall) Accept(ctx context.Context, answer map[string]any) error {
	_, err := v.awaitEvent(ctx, map[string]any{"request": "accept"}, answer, "accepted")
	return err
}

// Hangup ends the current call.
func (v *VideoCall) Hangup(ctx context.Context) error {
	_, err := v.awaitEvent(ctx, map[string]any{"request": "hangup"}, nil, "hangup")
	return err
}

// ListUsers returns the usernames currently registered on the plugin.
func (v *VideoCall) ListUsers(ctx context.Context) ([]string, error) {
	event, err := v.awaitEvent(ctx, map[string]any{"request": "list"}, nil, "registered_peers")
	if err != nil {
		return nil, err
	}
	result, _ := event.PluginPayload()["result"].(map[string]any)
	raw, _ := result["list"].([]any)
	users := make([]string, 0, len(raw))
	for _, item := range raw {
		if name, ok := item.(string); ok {
			users = append(users, name)
		}
	}
	return users, nil
}
