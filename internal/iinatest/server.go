// Package iinatest runs an in-process web remote server for tests.
package iinatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type Options struct {
	// Application is reported in identify_response, empty means "IINA".
	Application string
	Name        string
	// Silent servers accept connections but never answer.
	Silent bool
	// Status is sent as the data of a status frame in reply to get-status.
	Status map[string]any
}

type Server struct {
	srv  *httptest.Server
	opts Options

	Host string
	Port int

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	received []string
	accepted int
}

func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.Application == "" {
		opts.Application = "IINA"
	}
	if opts.Name == "" {
		opts.Name = "Test IINA"
	}

	s := &Server{opts: opts, conns: make(map[*websocket.Conn]struct{})}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	u, err := url.Parse(s.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	s.Host = u.Hostname()
	s.Port = port

	return s
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(payload, &frame)

		s.mu.Lock()
		s.received = append(s.received, frame.Type)
		s.mu.Unlock()

		if s.opts.Silent {
			continue
		}
		switch frame.Type {
		case "identify":
			s.write(conn, map[string]any{
				"type":        "identify_response",
				"application": s.opts.Application,
				"name":        s.opts.Name,
			})
		case "get-status":
			if s.opts.Status != nil {
				s.write(conn, map[string]any{"type": "status", "data": s.opts.Status})
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame map[string]any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, raw)
}

// Broadcast sends a raw text frame to every open connection.
func (s *Server) Broadcast(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

// SendStatus pushes a status frame with data to every open connection.
func (s *Server) SendStatus(data map[string]any) {
	raw, err := json.Marshal(map[string]any{"type": "status", "data": data})
	if err != nil {
		return
	}
	s.Broadcast(string(raw))
}

// DropConnections closes every open connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.UnderlyingConn().Close()
	}
}

func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accepted
}

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}
