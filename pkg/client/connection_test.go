package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/josephquek/janusgo/pkg/models"
	"github.com/josephquek/janusgo/pkg/protocol"
	"github.com/josephquek/janusgo/pkg/transport"
)

// fakeTransport records outgoing messages and answers them through the
// sink according to a per-test script.
type fakeTransport struct {
	mu      sync.Mutex
	sink    transport.Sink
	sent    []*models.Message
	respond func(msg *models.Message) []*models.Message
	sendErr error
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	respond := f.respond
	err := f.sendErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if respond != nil {
		for _, frame := range respond(msg) {
			f.sink.Deliver(frame)
		}
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) deliver(frame *models.Message) {
	f.sink.Deliver(frame)
}

func (f *fakeTransport) sentMessages() []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) countOp(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.sent {
		if msg.Janus == op {
			n++
		}
	}
	return n
}

func newTestConnection(cfg Config, respond func(*models.Message) []*models.Message) (*Connection, *fakeTransport) {
	return newTestConnectionWithLog(cfg, respond, zerolog.Nop())
}

func newTestConnectionWithLog(cfg Config, respond func(*models.Message) []*models.Message, log zerolog.Logger) (*Connection, *fakeTransport) {
	dispatcher := protocol.NewDispatcher(log)
	ft := &fakeTransport{sink: Sink(dispatcher), respond: respond}
	return New(ft, dispatcher, cfg, log), ft
}

// echoSuccess answers every request with a bare success reply.
func echoSuccess(msg *models.Message) []*models.Message {
	return []*models.Message{{Janus: models.StatusSuccess, Transaction: msg.Transaction}}
}

func TestSendRequiresOperationName(t *testing.T) {
	conn, _ := newTestConnection(DefaultConfig(), echoSuccess)

	_, err := conn.Send(context.Background(), &models.Message{})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestSendOverridesCallerTransaction(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	conn, ft := newTestConnectionWithLog(DefaultConfig(), echoSuccess, log)

	_, err := conn.Send(context.Background(), &models.Message{Janus: models.OpKeepalive, Transaction: "caller-made-this"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sent := ft.sentMessages()[0]
	if sent.Transaction == "caller-made-this" || sent.Transaction == "" {
		t.Errorf("Expected caller transaction to be overridden, got %q", sent.Transaction)
	}
	if !strings.Contains(buf.String(), "overridden") {
		t.Errorf("Expected a warning about the overridden transaction")
	}
}

func TestSendAssignsUniqueTransactions(t *testing.T) {
	conn, ft := newTestConnection(DefaultConfig(), echoSuccess)

	for i := 0; i < 10; i++ {
		if _, err := conn.Send(context.Background(), &models.Message{Janus: models.OpKeepalive}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for _, msg := range ft.sentMessages() {
		if seen[msg.Transaction] {
			t.Fatalf("Duplicate transaction %q", msg.Transaction)
		}
		seen[msg.Transaction] = true
	}
}

func TestSendAttachesCredentialsWithoutLoggingThem(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	cfg := DefaultConfig()
	cfg.APISecret = "janusoverlord"
	cfg.Token = "tok-abc123"
	conn, ft := newTestConnectionWithLog(cfg, echoSuccess, log)

	if _, err := conn.Send(context.Background(), &models.Message{Janus: models.OpCreate}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sent := ft.sentMessages()[0]
	if sent.APISecret != "janusoverlord" || sent.Token != "tok-abc123" {
		t.Errorf("Expected credentials on the wire message, got %+v", sent)
	}
	if strings.Contains(buf.String(), "janusoverlord") || strings.Contains(buf.String(), "tok-abc123") {
		t.Errorf("Credentials leaked into log output: %s", buf.String())
	}
}

func TestSendTimeoutRemovesSlot(t *testing.T) {
	conn, _ := newTestConnection(DefaultConfig(), nil) // never answers

	for i := 0; i < 5; i++ {
		start := time.Now()
		_, err := conn.Send(context.Background(), &models.Message{Janus: models.OpCreate},
			SendOptions{Timeout: 30 * time.Millisecond})
		elapsed := time.Since(start)

		var terr *models.TimeoutError
		if !errors.As(err, &terr) {
			t.Fatalf("Expected TimeoutError, got %v", err)
		}
		if elapsed < 30*time.Millisecond || elapsed > 500*time.Millisecond {
			t.Errorf("Timeout fired at %v, expected ~30ms", elapsed)
		}
	}

	if n := conn.Dispatcher().Transactions().Len(); n != 0 {
		t.Errorf("Expected no residual slots after repeated timeouts, got %d", n)
	}
}

func TestSendErrorReplyBecomesProtocolError(t *testing.T) {
	conn, _ := newTestConnection(DefaultConfig(), func(msg *models.Message) []*models.Message {
		return []*models.Message{{
			Janus:       models.StatusError,
			Transaction: msg.Transaction,
			Error:       &models.ErrorData{Code: 458, Reason: "No such session"},
		}}
	})

	_, err := conn.Send(context.Background(), &models.Message{Janus: models.OpKeepalive, SessionID: 1})
	var perr *models.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProtocolError, got %v", err)
	}
	if perr.Code != 458 {
		t.Errorf("Expected gateway error code 458, got %d", perr.Code)
	}
}

func TestSendTransportFailure(t *testing.T) {
	conn, ft := newTestConnection(DefaultConfig(), nil)
	ft.sendErr = errors.New("broken pipe")

	_, err := conn.Send(context.Background(), &models.Message{Janus: models.OpCreate})
	var cerr *models.ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected ConnectivityError, got %v", err)
	}
	if n := conn.Dispatcher().Transactions().Len(); n != 0 {
		t.Errorf("Expected slot removed after transport failure, got %d", n)
	}
}

func TestConcurrentSendsDoNotBlockEachOther(t *testing.T) {
	conn, ft := newTestConnection(DefaultConfig(), nil)

	type result struct {
		reply *models.Message
		err   error
	}
	firstDone := make(chan result, 1)
	secondDone := make(chan result, 1)

	go func() {
		reply, err := conn.Send(context.Background(), &models.Message{Janus: models.OpCreate})
		firstDone <- result{reply, err}
	}()
	go func() {
		reply, err := conn.Send(context.Background(), &models.Message{Janus: models.OpInfo})
		secondDone <- result{reply, err}
	}()

	// Wait until both requests are on the wire.
	deadline := time.Now().Add(time.Second)
	for len(ft.sentMessages()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Requests never reached the transport")
		}
		time.Sleep(time.Millisecond)
	}

	// Answer them in reverse order; the second caller must complete while
	// the first is still pending.
	sent := ft.sentMessages()
	var first, second *models.Message
	for _, msg := range sent {
		switch msg.Janus {
		case models.OpCreate:
			first = msg
		case models.OpInfo:
			second = msg
		}
	}

	ft.deliver(&models.Message{Janus: models.StatusServerInfo, Transaction: second.Transaction})
	select {
	case res := <-secondDone:
		if res.err != nil {
			t.Fatalf("Second request failed: %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Second reply blocked behind the first request")
	}

	ft.deliver(&models.Message{
		Janus: models.StatusSuccess, Transaction: first.Transaction,
		Data: &models.SuccessData{ID: 1},
	})
	select {
	case res := <-firstDone:
		if res.err != nil {
			t.Fatalf("First request failed: %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("First reply was never delivered")
	}
}

func TestCreateSessionRegistersAndExtractsID(t *testing.T) {
	conn, _ := newTestConnection(DefaultConfig(), func(msg *models.Message) []*models.Message {
		return []*models.Message{{
			Janus:       models.StatusSuccess,
			Transaction: msg.Transaction,
			Data:        &models.SuccessData{ID: 987654},
		}}
	})

	session, err := conn.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID() != 987654 {
		t.Errorf("Expected session id 987654, got %d", session.ID())
	}
	if conn.Dispatcher().SessionCount() != 1 {
		t.Errorf("Expected session registered for routing")
	}
}

func TestCreateSessionMissingID(t *testing.T) {
	conn, _ := newTestConnection(DefaultConfig(), echoSuccess) // success without data

	_, err := conn.CreateSession(context.Background())
	var perr *models.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProtocolError for missing id, got %v", err)
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	conn, ft := newTestConnection(DefaultConfig(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(context.Background(), &models.Message{Janus: models.OpCreate})
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(ft.sentMessages()) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Request never reached the transport")
		}
		time.Sleep(time.Millisecond)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		var cerr *models.ConnectivityError
		if !errors.As(err, &cerr) {
			t.Errorf("Expected ConnectivityError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Pending request survived Close")
	}
}
