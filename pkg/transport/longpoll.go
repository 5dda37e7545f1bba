package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
)

// LongPollConfig holds configuration for the request/poll transport.
type LongPollConfig struct {
	// PollWait bounds how long a single poll request may hang before the
	// client gives up and reissues it. The gateway holds polls for up to
	// 30 seconds by default.
	PollWait time.Duration

	// RetryBackoff is the pause after a failed poll before the next
	// attempt.
	RetryBackoff time.Duration

	// RequestTimeout bounds each individual send request.
	RequestTimeout time.Duration
}

// DefaultLongPollConfig returns defaults matched to the gateway's own
// 30 second poll hold.
func DefaultLongPollConfig() LongPollConfig {
	return LongPollConfig{
		PollWait:       35 * time.Second,
		RetryBackoff:   time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// LongPoll carries each send as an individual HTTP request against
// base[/session[/handle]] and receives pushed frames through one
// long-poll loop per session. The synchronous reply to a send arrives in
// the response body and is fed through the Sink like any other frame, so
// correlation takes a single path regardless of transport.
type LongPoll struct {
	base   string
	sink   Sink
	config LongPollConfig
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	polls  map[uint64]context.CancelFunc
	closed bool
}

// NewLongPoll creates the request/poll transport for an http(s) gateway
// endpoint such as "https://example.org/janus".
func NewLongPoll(base string, sink Sink, log zerolog.Logger, config ...LongPollConfig) *LongPoll {
	cfg := DefaultLongPollConfig()
	if len(config) > 0 {
		cfg = config[0]
		if cfg.PollWait <= 0 {
			cfg.PollWait = 35 * time.Second
		}
		if cfg.RetryBackoff <= 0 {
			cfg.RetryBackoff = time.Second
		}
		if cfg.RequestTimeout <= 0 {
			cfg.RequestTimeout = 30 * time.Second
		}
	}
	return &LongPoll{
		base:   strings.TrimRight(base, "/"),
		sink:   sink,
		config: cfg,
		client: &http.Client{},
		log:    log.With().Str("component", "transport.longpoll").Logger(),
		polls:  make(map[uint64]context.CancelFunc),
	}
}

// Connect verifies the endpoint is reachable.
func (t *LongPoll) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/info", nil)
	if err != nil {
		return &models.ValidationError{Field: "url", Message: err.Error()}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &models.ConnectivityError{Message: fmt.Sprintf("gateway %s unreachable", t.base), Cause: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &models.ConnectivityError{Message: fmt.Sprintf("gateway info returned %s", resp.Status)}
	}
	return nil
}

// Send posts one message to its addressing path. The response body is the
// synchronous reply and is delivered through the Sink.
func (t *LongPoll) Send(ctx context.Context, msg *models.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	url := t.base
	if msg.SessionID != 0 {
		url = fmt.Sprintf("%s/%d", url, msg.SessionID)
		if msg.HandleID != 0 {
			url = fmt.Sprintf("%s/%d", url, msg.HandleID)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &models.ValidationError{Field: "url", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &models.ConnectivityError{Message: "request failed", Cause: err}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return &models.ConnectivityError{Message: "reading response failed", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &models.ConnectivityError{Message: fmt.Sprintf("gateway returned %s", resp.Status)}
	}

	reply, err := models.Decode(body)
	if err != nil {
		t.log.Warn().Err(err).Msg("dropping undecodable reply body")
		return nil
	}
	t.sink.Deliver(reply)
	return nil
}

// StartPoll launches the receive loop for one session. Pushed frames for
// the session and its handles arrive only through this loop.
func (t *LongPoll) StartPoll(sessionID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if _, running := t.polls[sessionID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.polls[sessionID] = cancel
	go t.pollLoop(ctx, sessionID)
}

// StopPoll cancels a session's receive loop.
func (t *LongPoll) StopPoll(sessionID uint64) {
	t.mu.Lock()
	cancel, ok := t.polls[sessionID]
	if ok {
		delete(t.polls, sessionID)
	}
	t.mu.Unlock()

	if ok {
		cancel()
	}
}

// Close stops every poll loop.
func (t *LongPoll) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancels := make([]context.CancelFunc, 0, len(t.polls))
	for _, cancel := range t.polls {
		cancels = append(cancels, cancel)
	}
	t.polls = make(map[uint64]context.CancelFunc)
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	t.client.CloseIdleConnections()
	return nil
}

func (t *LongPoll) pollLoop(ctx context.Context, sessionID uint64) {
	log := t.log.With().Uint64("session_id", sessionID).Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		frame, retry, err := t.pollOnce(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !retry {
				log.Warn().Err(err).Msg("session poll stopped")
				return
			}
			log.Warn().Err(err).Msg("session poll failed, retrying")
			select {
			case <-time.After(t.config.RetryBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if frame == nil {
			// keepalive poll expiry, reissue
			continue
		}
		if frame.SessionID == 0 {
			// The poll path already scopes the frame to this session.
			frame.SessionID = sessionID
		}
		t.sink.Deliver(frame)
	}
}

// pollOnce issues a single long poll. A nil frame with nil error means the
// poll expired without traffic.
func (t *LongPoll) pollOnce(ctx context.Context, sessionID uint64) (*models.Message, bool, error) {
	url := fmt.Sprintf("%s/%d?rid=%d&maxev=1", t.base, sessionID, time.Now().UnixMilli())

	reqCtx, cancel := context.WithTimeout(ctx, t.config.PollWait)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode == http.StatusNotFound {
		// Session is gone server-side; the poll has nothing left to serve.
		return nil, false, fmt.Errorf("gateway returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, true, fmt.Errorf("gateway returned %s", resp.Status)
	}

	frame, err := models.Decode(body)
	if err != nil {
		return nil, true, err
	}
	if frame.Janus == models.StatusKeepalive {
		return nil, true, nil
	}
	return frame, true, nil
}
