// Package plugins composes higher-level gateway plugin operations entirely
// from the generic handle primitives: synchronous Send for room management
// and the event queue for ack-then-event participant operations. JSEP
// payloads are passed through untouched for an external media engine to
// negotiate with.
package plugins

import (
	"context"

	"github.com/josephquek/janusgo/pkg/client"
	"github.com/josephquek/janusgo/pkg/models"
)

// VideoRoomPlugin is the gateway's SFU video conferencing plugin.
const VideoRoomPlugin = "janus.plugin.videoroom"

// VideoRoom drives one videoroom handle.
type VideoRoom struct {
	handle *client.Handle
}

// AttachVideoRoom attaches a videoroom handle within the session.
func AttachVideoRoom(ctx context.Context, session *client.Session) (*VideoRoom, error) {
	handle, err := session.Attach(ctx, VideoRoomPlugin)
	if err != nil {
		return nil, err
	}
	return &VideoRoom{handle: handle}, nil
}

// Handle exposes the underlying handle for event consumption and trickle.
func (v *VideoRoom) Handle() *client.Handle {
	return v.handle
}

// Detach releases the handle.
func (v *VideoRoom) Detach(ctx context.Context) error {
	return v.handle.Detach(ctx)
}

// request runs one synchronous plugin request and returns its plugindata
// payload. Plugin-level rejections ("event" payloads carrying error_code)
// surface as ProtocolError.
func (v *VideoRoom) request(ctx context.Context, body map[string]any) (map[string]any, error) {
	reply, err := v.handle.Message(ctx, body, nil)
	if err != nil {
		return nil, err
	}
	return pluginPayload(reply, body["request"].(string))
}

func pluginPayload(msg *models.Message, op string) (map[string]any, error) {
	payload := msg.PluginPayload()
	if payload == nil {
		return nil, &models.ProtocolError{Op: op, Message: "reply missing plugindata"}
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
	return payload, nil
}

// CreateRoom creates a room. Extra gateway-side room parameters (pin,
// publisher limits, codecs) go in opts verbatim.
func (v *VideoRoom) CreateRoom(ctx context.Context, roomID uint64, opts map[string]any) error {
	body := map[string]any{"request": "create", "room": roomID}
	for k, val := range opts {
		body[k] = val
	}
	_, err := v.request(ctx, body)
	return err
}

// EditRoom changes room parameters.
func (v *VideoRoom) EditRoom(ctx context.Context, roomID uint64, opts map[string]any) error {
	body := map[string]any{"request": "edit", "room": roomID}
	for k, val := range opts {
		body[k] = val
	}
	_, err := v.request(ctx, body)
	return err
}

// DestroyRoom removes a room. Destroying a room that does not exist fails
// with the plugin's error payload.
func (v *VideoRoom) DestroyRoom(ctx context.Context, roomID uint64) error {
	_, err := v.request(ctx, map[string]any{"request": "destroy", "room": roomID})
	return err
}

// Exists reports whether a room exists.
func (v *VideoRoom) Exists(ctx context.Context, roomID uint64) (bool, error) {
	payload, err := v.request(ctx, map[string]any{"request": "exists", "room": roomID})
	if err != nil {
		return false, err
	}
	exists, _ := payload["exists"].(bool)
	return exists, nil
}

// Allowed edits a room's token allowlist.
func (v *VideoRoom) Allowed(ctx context.Context, roomID uint64, action string, tokens []string) error {
	body := map[string]any{"request": "allowed", "room": roomID, "action": action}
	if len(tokens) > 0 {
		body["allowed"] = tokens
	}
	_, err := v.request(ctx, body)
	return err
}

// Kick removes a participant from a room.
func (v *VideoRoom) Kick(ctx context.Context, roomID, participantID uint64) error {
	_, err := v.request(ctx, map[string]any{"request": "kick", "room": roomID, "id": participantID})
	return err
}

// Moderate mutes or unmutes one media stream of a participant.
func (v *VideoRoom) Moderate(ctx context.Context, roomID, participantID uint64, mid string, mute bool) error {
	_, err := v.request(ctx, map[string]any{
		"request": "moderate", "room": roomID, "id": participantID,
		"mid": mid, "mute": mute,
	})
	return err
}

// ListRooms returns the rooms visible to this handle.
func (v *VideoRoom) ListRooms(ctx context.Context) ([]map[string]any, error) {
	payload, err := v.request(ctx, map[string]any{"request": "list"})
	if err != nil {
		return nil, err
	}
	return anyList(payload["list"]), nil
}

// ListParticipants returns a room's current participants.
func (v *VideoRoom) ListParticipants(ctx context.Context, roomID uint64) ([]map[string]any, error) {
	payload, err := v.request(ctx, map[string]any{"request": "listparticipants", "room": roomID})
	if err != nil {
		return nil, err
	}
	return anyList(payload["participants"]), nil
}

func anyList(value any) []map[string]any {
	raw, _ := value.([]any)
	list := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			list = append(list, m)
		}
	}
	return list
}

// asyncRequest sends an asynchronous plugin request (ack expected) and
// waits on the event queue for the plugindata event answering it,
// identified by the videoroom payload key taking the given value.
// Unrelated events read while waiting are skipped.
func (v *VideoRoom) asyncRequest(ctx context.Context, body, jsep map[string]any, want string) (*models.Message, error) {
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
		if kind, ok := payload["videoroom"].(string); ok && kind == want {
			return msg, nil
		}
	}
}

// Join enters a room as a publisher. The joined event is returned with the
// participant roster in its payload.
func (v *VideoRoom) Join(ctx context.Context, roomID uint64, displayName string) (*models.Message, error) {
	body := map[string]any{"request": "join", "ptype": "publisher", "room": roomID}
	if displayName != "" {
		body["display"] = displayName
	}
	return v.asyncRequest(ctx, body, nil, "joined")
}

// Publish offers media into the room. The offer JSEP comes from the media
// engine; the returned event carries the gateway's answer JSEP for it.
func (v *VideoRoom) Publish(ctx context.Context, offer map[string]any, opts map[string]any) (map[string]any, error) {
	body := map[string]any{"request": "publish"}
	for k, val := range opts {
		body[k] = val
	}
	event, err := v.asyncRequest(ctx, body, offer, "event")
	if err != nil {
		return nil, err
	}
	return event.Jsep, nil
}

// Unpublish withdraws published media.
func (v *VideoRoom) Unpublish(ctx context.Context) error {
	_, err := v.asyncRequest(ctx, map[string]any{"request": "unpublish"}, nil, "event")
	return err
}

// Subscribe joins as a subscriber to the given streams. The attached event
// carries the gateway's offer JSEP for the media engine to answer.
func (v *VideoRoom) Subscribe(ctx context.Context, roomID uint64, streams []map[string]any) (*models.Message, error) {
	body := map[string]any{
		"request": "join", "ptype": "subscriber", "room": roomID,
		"streams": streams,
	}
	return v.asyncRequest(ctx, body, nil, "attached")
}

// Start completes a subscription with the media engine's answer JSEP.
func (v *VideoRoom) Start(ctx context.Context, answer map[string]any) error {
	_, err := v.asyncRequest(ctx, map[string]any{"request": "start"}, answer, "event")
	return err
}

// Unsubscribe tears a subscription down.
func (v *VideoRoom) Unsubscribe(ctx context.Context) error {
	_, err := v.asyncRequest(ctx, map[string]any{"request": "leave"}, nil, "left")
	return err
}

// Leave exits the room as a publisher.
func (v *VideoRoom) Leave(ctx context.Context) error {
	_, err := v.asyncRequest(ctx, map[string]any{"request": "leave"}, nil, "event")
	return err
}
