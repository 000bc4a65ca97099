package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/protocol"
	"github.com/skobkin/mediaremote/internal/transport"
)

var ErrNotConnected = errors.New("not connected")

const DefaultWriteTimeout = 5 * time.Second

type State string

const (
	StateIdle        State = "idle"
	StateHandshaking State = "handshaking"
	StateLive        State = "live"
	StateClosed      State = "closed"
)

type Config struct {
	Target       domain.ServerKey
	WriteTimeout time.Duration
}

// Session is one control connection. It is single use: once closed it stays closed.
type Session struct {
	id        string
	cfg       Config
	transport transport.Transport
	codec     protocol.Codec
	bus       bus.MessageBus
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu         sync.Mutex
	state      State
	status     domain.MediaStatus
	err        error
	cancelRead context.CancelFunc

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, tr transport.Transport, codec protocol.Codec, b bus.MessageBus, logger *slog.Logger, m *metrics.Metrics) *Session {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if codec == nil {
		codec = protocol.NewJSONCodec()
	}
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	return &Session{
		id:        id,
		cfg:       cfg,
		transport: tr,
		codec:     codec,
		bus:       b,
		logger:    logger.With("session_id", id, "target", cfg.Target.String()),
		metrics:   m,
		now:       time.Now,
		state:     StateIdle,
		status:    domain.EmptyMediaStatus(),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Target() domain.ServerKey {
	return s.cfg.Target
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Status returns the media status merged from every status message so far.
func (s *Session) Status() domain.MediaStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Done is closed once the session reaches the closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session closed. It is nil while open and after an explicit Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Open connects the transport, starts the reader and requests the current status.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()

		return fmt.Errorf("open session in state %s", state)
	}
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		err = fmt.Errorf("connect %s: %w", s.cfg.Target, err)
		s.finish(err)
		s.metrics.SessionFailed()

		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		_ = s.transport.Close()

		return ErrNotConnected
	}
	s.state = StateHandshaking
	s.cancelRead = cancel
	s.mu.Unlock()

	s.logger.Info("session opened")
	s.metrics.SessionOpened()
	go s.runReader(readCtx)

	if err := s.Send(ctx, protocol.GetStatus{}); err != nil {
		s.finish(err)

		return err
	}

	return nil
}

// Send writes cmd to the server. Writes are serialized.
func (s *Session) Send(ctx context.Context, cmd protocol.Command) error {
	switch s.State() {
	case StateHandshaking, StateLive:
	default:
		return ErrNotConnected
	}

	payload, err := s.codec.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.transport.WriteMessage(writeCtx, payload); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			return ErrNotConnected
		}

		return fmt.Errorf("send %s: %w", cmd.Type(), err)
	}

	s.metrics.CommandSent(string(cmd.Type()))
	s.publish(connectors.TopicRawFrameOut, connectors.RawFrame{SessionID: s.id, Text: string(payload), Len: len(payload)})

	return nil
}

// Close ends the session with a normal closure. It is safe to call more than once.
func (s *Session) Close() error {
	s.finish(nil)

	return nil
}

func (s *Session) runReader(ctx context.Context) {
	for {
		payload, err := s.transport.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Info("session read failed", "error", err)
			s.finish(fmt.Errorf("read: %w", err))

			return
		}

		s.publish(connectors.TopicRawFrameIn, connectors.RawFrame{SessionID: s.id, Text: string(payload), Len: len(payload)})
		msg, err := s.codec.DecodeServerMessage(payload)
		if err != nil {
			s.metrics.MalformedMessage()
			s.logger.Warn("dropping malformed message", "error", err, "len", len(payload))

			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg protocol.ServerMessage) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()

		return
	}
	if s.state == StateHandshaking {
		s.state = StateLive
		s.logger.Debug("session live")
	}

	switch m := msg.(type) {
	case protocol.StatusUpdate:
		if !m.HasData {
			s.mu.Unlock()

			return
		}
		s.status = s.status.Merge(m.Patch, s.now())
		snapshot := s.status
		s.mu.Unlock()
		s.publish(connectors.TopicMediaStatus, snapshot)
	case protocol.IdentifyResponse:
		s.mu.Unlock()
		s.publish(connectors.TopicServerIdentified, connectors.ServerIdentified{
			SessionID:   s.id,
			Target:      s.cfg.Target,
			Application: m.Application,
			Name:        m.Name,
			At:          s.now(),
		})
	default:
		s.mu.Unlock()
		s.logger.Debug("ignoring message", "type", msg.MessageType())
	}
}

func (s *Session) finish(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.err = cause
		cancel := s.cancelRead
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
		if cause != nil {
			s.logger.Info("session closed", "error", cause)
		} else {
			s.logger.Info("session closed")
		}
		close(s.done)
	})
}

func (s *Session) publish(topic string, msg any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, msg)
}
