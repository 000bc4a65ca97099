package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 3 * time.Second
	closeFrameTimeout       = time.Second
)

// WebSocketOptions tunes the websocket dialer.
type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	Path             string
	// Logger defaults to slog.Default with component=transport.
	Logger *slog.Logger
}

// WebSocketTransport exchanges text frames with a server over a websocket.
type WebSocketTransport struct {
	host   string
	port   int
	opts   WebSocketOptions
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketTransport(host string, port int, opts WebSocketOptions) *WebSocketTransport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Path == "" {
		opts.Path = "/"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.With("component", "transport")
	}
	t := &WebSocketTransport{host: host, port: port, opts: opts}
	t.logger = logger.With("transport", "websocket", "target", t.Endpoint())

	return t
}

// WebSocketFactory returns a Factory producing websocket transports with the given options.
func WebSocketFactory(opts WebSocketOptions) Factory {
	return func(address string, port int) Transport {
		return NewWebSocketTransport(address, port, opts)
	}
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(t.host, strconv.Itoa(t.port)),
		Path:   t.opts.Path,
	}

	return u.String()
}

// Endpoint is the host:port the transport dials.
func (t *WebSocketTransport) Endpoint() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := t.logger
	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("websocket host is empty")
	}

	dialer := websocket.Dialer{
		Proxy:            nil,
		HandshakeTimeout: t.opts.HandshakeTimeout,
	}
	logger.Debug("connecting", "url", t.URL())
	conn, resp, err := dialer.DialContext(ctx, t.URL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Debug("connect failed", "error", err)

		return fmt.Errorf("dial websocket: %w", err)
	}
	t.conn = conn
	logger.Debug("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	logger := t.logger
	if conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout)); err != nil {
		logger.Debug("close frame not sent", "error", err)
	}
	if err := conn.Close(); err != nil {
		logger.Debug("close failed", "error", err)

		return err
	}
	logger.Debug("closed")

	return nil
}

func (t *WebSocketTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !IsNormalClosure(err) {
				return nil, fmt.Errorf("read message: %w", ctxErr)
			}

			return nil, fmt.Errorf("read message: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		return payload, nil
	}
}

func (t *WebSocketTransport) WriteMessage(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}

// IsNormalClosure reports whether err is the peer closing the websocket with code 1000.
func IsNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}

	return false
}

// IsTimeout reports whether err came from an expired read or write deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
