package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/iinatest"
	"github.com/skobkin/mediaremote/internal/protocol"
	"github.com/skobkin/mediaremote/internal/transport"
)

type chanTransport struct {
	frames chan []byte
	fail   chan error

	mu      sync.Mutex
	written []string
	closed  int
}

func newChanTransport() *chanTransport {
	return &chanTransport{frames: make(chan []byte, 16), fail: make(chan error, 1)}
}

func (c *chanTransport) Name() string                  { return "chan" }
func (c *chanTransport) Connect(context.Context) error { return nil }

func (c *chanTransport) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++

	return nil
}

func (c *chanTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.fail:
		return nil, err
	case frame := <-c.frames:
		return frame, nil
	}
}

func (c *chanTransport) WriteMessage(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(payload))

	return nil
}

func (c *chanTransport) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.written...)
}

func waitMessage(t *testing.T, sub bus.Subscription) any {
	t.Helper()
	select {
	case msg := <-sub:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for bus message")
	}

	return nil
}

func TestSession_OpenRequestsStatusAndGoesLive(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	statusSub := b.Subscribe(connectors.TopicMediaStatus)

	tr := newChanTransport()
	s := New(Config{Target: domain.NewServerKey("10.0.0.1", 10010)}, tr, nil, b, nil, nil)
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.State() != StateHandshaking {
		t.Fatalf("expected handshaking after open, got %s", s.State())
	}
	if got := tr.Written(); len(got) != 1 || got[0] != `{"type":"get-status"}` {
		t.Fatalf("expected get-status to be sent first, got %v", got)
	}

	tr.frames <- []byte(`{"type":"status","data":{"paused":false,"volume":50,"filename":"movie.mkv"}}`)
	first, ok := waitMessage(t, statusSub).(domain.MediaStatus)
	if !ok || first.Paused || first.Volume != 50 || first.Filename != "movie.mkv" {
		t.Fatalf("unexpected status %+v", first)
	}
	if s.State() != StateLive {
		t.Fatalf("expected live after first message, got %s", s.State())
	}

	tr.frames <- []byte(`{"type":"status","data":{"paused":true}}`)
	second := waitMessage(t, statusSub).(domain.MediaStatus)
	if !second.Paused || second.Volume != 50 || second.Filename != "movie.mkv" {
		t.Fatalf("expected partial update merged over previous, got %+v", second)
	}
	if second.ReceivedAt.IsZero() {
		t.Fatalf("expected receive timestamp")
	}
}

func TestSession_MalformedFramesAreNotFatal(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	statusSub := b.Subscribe(connectors.TopicMediaStatus)

	tr := newChanTransport()
	s := New(Config{}, tr, nil, b, nil, nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	tr.frames <- []byte("not json")
	tr.frames <- []byte(`{"no":"type"}`)
	tr.frames <- []byte(`{"type":"future-thing"}`)
	tr.frames <- []byte(`{"type":"status","data":{"muted":true}}`)

	status := waitMessage(t, statusSub).(domain.MediaStatus)
	if !status.Muted {
		t.Fatalf("expected muted status, got %+v", status)
	}
	select {
	case <-s.Done():
		t.Fatalf("malformed frames must not close the session")
	default:
	}
}

func TestSession_PublishesServerIdentified(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	sub := b.Subscribe(connectors.TopicServerIdentified)

	tr := newChanTransport()
	s := New(Config{Target: domain.NewServerKey("10.0.0.1", 10010)}, tr, nil, b, nil, nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	tr.frames <- []byte(`{"type":"identify_response","application":"IINA","name":"Den"}`)
	event := waitMessage(t, sub).(connectors.ServerIdentified)
	if event.Name != "Den" || event.SessionID != s.ID() || event.Target.Port != 10010 {
		t.Fatalf("unexpected identify event %+v", event)
	}
}

func TestSession_TransportFailureClosesWithError(t *testing.T) {
	tr := newChanTransport()
	s := New(Config{}, tr, nil, nil, nil, nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	tr.fail <- errors.New("connection reset")
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not close after transport failure")
	}
	if s.Err() == nil {
		t.Fatalf("expected close cause")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	if err := s.Send(context.Background(), protocol.TogglePause{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestSession_SendRequiresOpenSession(t *testing.T) {
	tr := newChanTransport()
	s := New(Config{}, tr, nil, nil, nil, nil)
	if err := s.Send(context.Background(), protocol.TogglePause{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before open, got %v", err)
	}

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Send(context.Background(), protocol.Seek{Position: 42}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("explicit close must not report an error, got %v", s.Err())
	}
	if err := s.Open(context.Background()); err == nil {
		t.Fatalf("closed session must not reopen")
	}

	got := tr.Written()
	if len(got) != 2 || got[1] != `{"type":"seek","position":42}` {
		t.Fatalf("unexpected written frames %v", got)
	}
}

func TestSession_OverWebSocket(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Status: map[string]any{"title": "Movie", "volume": 80}})
	b := bus.New(nil)
	defer b.Close()
	statusSub := b.Subscribe(connectors.TopicMediaStatus)

	tr := transport.NewWebSocketTransport(srv.Host, srv.Port, transport.WebSocketOptions{})
	s := New(Config{Target: domain.NewServerKey(srv.Host, srv.Port)}, tr, nil, b, nil, nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	status := waitMessage(t, statusSub).(domain.MediaStatus)
	if status.Title != "Movie" || status.Volume != 80 {
		t.Fatalf("unexpected status %+v", status)
	}

	srv.DropConnections()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not notice dropped connection")
	}
	if s.Err() == nil {
		t.Fatalf("expected error after dropped connection")
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	tr := transport.NewWebSocketTransport("127.0.0.1", 1, transport.WebSocketOptions{HandshakeTimeout: time.Second})
	s := New(Config{}, tr, nil, nil, nil, nil)
	if err := s.Open(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed after failed open, got %s", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done must be closed after failed open")
	}
}
