package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skobkin/mediaremote/internal/iinatest"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/transport"
)

func newTestProber() *Prober {
	return New(Config{
		ConnectTimeout:  time.Second,
		IdentifyTimeout: 300 * time.Millisecond,
	}, transport.WebSocketFactory(transport.WebSocketOptions{}), nil, metrics.New())
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}

func TestProbe_Compatible(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Name: "Living room"})

	res := newTestProber().Probe(context.Background(), srv.Host, srv.Port)
	if res.Outcome != OutcomeCompatible {
		t.Fatalf("expected compatible, got %s (%v)", res.Outcome, res.Err)
	}
	if res.Name != "Living room" {
		t.Fatalf("expected declared name, got %q", res.Name)
	}
	if res.Err != nil {
		t.Fatalf("unexpected error %v", res.Err)
	}
	if got := srv.Received(); len(got) == 0 || got[0] != "identify" {
		t.Fatalf("expected identify frame first, got %v", got)
	}
}

func TestProbe_OtherApplication(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Application: "mpv"})

	res := newTestProber().Probe(context.Background(), srv.Host, srv.Port)
	if res.Outcome != OutcomeRespondedNonCompatible {
		t.Fatalf("expected non compatible, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrProtocolMismatch) {
		t.Fatalf("expected ErrProtocolMismatch, got %v", res.Err)
	}
}

func TestProbe_SilentServerTimesOut(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Silent: true})

	res := newTestProber().Probe(context.Background(), srv.Host, srv.Port)
	if res.Outcome != OutcomeRespondedNonCompatible {
		t.Fatalf("expected non compatible, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrProtocolTimeout) {
		t.Fatalf("expected ErrProtocolTimeout, got %v", res.Err)
	}
	if res.Elapsed > 2*time.Second {
		t.Fatalf("probe took too long: %s", res.Elapsed)
	}
}

func TestProbe_ClosedPortIsUnreachable(t *testing.T) {
	p := newTestProber()
	res := p.Probe(context.Background(), "127.0.0.1", closedPort(t))
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("expected unreachable, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrTransportUnreachable) {
		t.Fatalf("expected ErrTransportUnreachable, got %v", res.Err)
	}
	if res.Elapsed > p.Config().ConnectTimeout+500*time.Millisecond {
		t.Fatalf("probe exceeded connect timeout: %s", res.Elapsed)
	}
}

func TestProbe_InvalidEndpoint(t *testing.T) {
	res := newTestProber().Probe(context.Background(), "", 10010)
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("expected unreachable, got %s", res.Outcome)
	}
}

func TestProbe_ClassifiesWithFakeTransport(t *testing.T) {
	tests := []struct {
		name    string
		frames  []string
		readErr error
		want    Outcome
		wantErr error
	}{
		{
			name:   "garbage then identify",
			frames: []string{"not json", `{"type":"status","data":{}}`, `{"type":"identify_response","application":"IINA","name":"x"}`},
			want:   OutcomeCompatible,
		},
		{
			name:    "close before reply",
			readErr: errors.New("connection reset"),
			want:    OutcomeUnreachable,
			wantErr: ErrTransportUnreachable,
		},
		{
			name:    "normal close before reply",
			readErr: fmt.Errorf("read message: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"}),
			want:    OutcomeRespondedNonCompatible,
			wantErr: ErrProtocolTimeout,
		},
		{
			name:    "close after unrelated reply",
			frames:  []string{`{"type":"hello"}`},
			readErr: errors.New("connection reset"),
			want:    OutcomeRespondedNonCompatible,
			wantErr: ErrProtocolMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeTransport{frames: tc.frames, readErr: tc.readErr}
			p := New(Config{}, func(string, int) transport.Transport { return fake }, nil, nil)
			res := p.Probe(context.Background(), "10.0.0.1", 10010)
			if res.Outcome != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, res.Outcome, res.Err)
			}
			if tc.wantErr != nil && !errors.Is(res.Err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, res.Err)
			}
			if !fake.closed {
				t.Fatalf("transport must be closed on every path")
			}
		})
	}
}

func TestTestReachable(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Silent: true})
	p := newTestProber()

	if !p.TestReachable(context.Background(), srv.Host, srv.Port) {
		t.Fatalf("expected running server to be reachable")
	}
	if p.TestReachable(context.Background(), "127.0.0.1", closedPort(t)) {
		t.Fatalf("expected closed port to be unreachable")
	}
}

type fakeTransport struct {
	frames  []string
	readErr error
	closed  bool
}

func (f *fakeTransport) Name() string                              { return "fake" }
func (f *fakeTransport) Connect(context.Context) error             { return nil }
func (f *fakeTransport) WriteMessage(context.Context, []byte) error { return nil }

func (f *fakeTransport) Close() error {
	f.closed = true

	return nil
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	if len(f.frames) > 0 {
		next := f.frames[0]
		f.frames = f.frames[1:]

		return []byte(next), nil
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	<-ctx.Done()

	return nil, ctx.Err()
}

func TestProbe_ServerClosingNormallyIsNonCompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	res := newTestProber().Probe(context.Background(), u.Hostname(), port)
	if res.Outcome != OutcomeRespondedNonCompatible {
		t.Fatalf("expected non-compatible, got %s (%v)", res.Outcome, res.Err)
	}
	if !errors.Is(res.Err, ErrProtocolTimeout) {
		t.Fatalf("expected %v, got %v", ErrProtocolTimeout, res.Err)
	}
}
