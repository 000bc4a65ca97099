package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/protocol"
)

var ErrNoTarget = errors.New("no server selected")

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
	DefaultOpenTimeout = 3 * time.Second
)

// Session is the connection supervised by the Reconnector.
type Session interface {
	ID() string
	Open(ctx context.Context) error
	Send(ctx context.Context, cmd protocol.Command) error
	Close() error
	Done() <-chan struct{}
	Err() error
}

// SessionFactory builds an unopened session for target.
type SessionFactory func(target domain.ServerKey) Session

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, time.AfterFunc in production.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Config struct {
	BaseDelay   time.Duration
	MaxAttempts int
	OpenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}

	return c
}

// Delay returns the wait before reconnect attempt n, base*2^(n-1).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return c.BaseDelay << (attempt - 1)
}

// Reconnector owns the connection state. It keeps one session open for the
// selected target and retries with exponential backoff after unexpected closes.
type Reconnector struct {
	cfg       Config
	factory   SessionFactory
	bus       bus.MessageBus
	logger    *slog.Logger
	metrics   *metrics.Metrics
	afterFunc AfterFunc
	now       func() time.Time

	mu         sync.Mutex
	status     domain.ConnectionStatus
	target     domain.ServerKey
	hasTarget  bool
	generation uint64
	attempt    int
	session    Session
	timer      Timer

	// outbox keeps bus events in order; they are published without mu held.
	outbox   []event
	flushing bool
}

type event struct {
	topic string
	msg   any
}

type Option func(*Reconnector)

func WithAfterFunc(fn AfterFunc) Option {
	return func(r *Reconnector) {
		if fn != nil {
			r.afterFunc = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconnector) {
		if now != nil {
			r.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconnector) {
		r.metrics = m
	}
}

func New(cfg Config, factory SessionFactory, b bus.MessageBus, logger *slog.Logger, opts ...Option) *Reconnector {
	if logger == nil {
		logger = slog.Default().With("component", "reconnect")
	}
	r := &Reconnector{
		cfg:       cfg.withDefaults(),
		factory:   factory,
		bus:       b,
		logger:    logger,
		afterFunc: realAfterFunc,
		now:       time.Now,
		status:    domain.DisconnectedStatus(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start drops any current connection and connects to the endpoint.
func (r *Reconnector) Start(address string, port int) error {
	target := domain.NewServerKey(address, port)
	if err := target.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.resetLocked()
	r.target = target
	r.hasTarget = true
	r.attempt = 0
	gen := r.generation
	r.setStatusLocked(domain.ConnectionStatus{State: domain.ConnectionStateConnecting})
	r.mu.Unlock()

	r.dropSession(old)
	r.flush()
	r.logger.Info("connecting", "target", target.String())
	go r.connect(gen, target)

	return nil
}

// Stop cancels a pending retry, closes the session and forces disconnected.
// Calling it again is a no-op.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	old := r.resetLocked()
	r.attempt = 0
	if r.status.State != domain.ConnectionStateDisconnected || r.status.Terminal {
		r.setStatusLocked(domain.ConnectionStatus{State: domain.ConnectionStateDisconnected})
	}
	r.mu.Unlock()

	r.dropSession(old)
	r.flush()
}

// dropSession closes old and, when there was one, clears the media status so
// the last snapshot of a dead session is not shown as current.
func (r *Reconnector) dropSession(old Session) {
	if old == nil {
		return
	}
	closeSession(old)

	r.mu.Lock()
	r.enqueueLocked(connectors.TopicMediaStatus, domain.EmptyMediaStatus())
	r.mu.Unlock()
}

// Reconnect restarts the connection to the last target without backoff.
func (r *Reconnector) Reconnect() error {
	r.mu.Lock()
	target, ok := r.target, r.hasTarget
	r.mu.Unlock()
	if !ok {
		return ErrNoTarget
	}

	return r.Start(target.Address, target.Port)
}

func (r *Reconnector) State() domain.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// Session returns the open session or nil.
func (r *Reconnector) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.session
}

func (r *Reconnector) Target() (domain.ServerKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.target, r.hasTarget
}

func (r *Reconnector) connect(gen uint64, target domain.ServerKey) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()

		return
	}
	// Every new session starts from the empty snapshot.
	r.enqueueLocked(connectors.TopicMediaStatus, domain.EmptyMediaStatus())
	r.mu.Unlock()
	r.flush()

	sess := r.factory(target)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OpenTimeout)
	err := sess.Open(ctx)
	cancel()

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		closeSession(sess)

		return
	}
	if err != nil {
		r.logger.Warn("connect failed", "target", target.String(), "error", err)
		r.scheduleLocked(gen, err)
		r.mu.Unlock()
		r.flush()

		return
	}
	r.session = sess
	r.attempt = 0
	r.setStatusLocked(domain.ConnectionStatus{State: domain.ConnectionStateConnected})
	r.mu.Unlock()
	r.flush()

	r.logger.Info("connected", "target", target.String(), "session_id", sess.ID())
	go r.watch(gen, sess)
}

func (r *Reconnector) watch(gen uint64, sess Session) {
	<-sess.Done()

	r.mu.Lock()
	if gen != r.generation || r.session != sess {
		r.mu.Unlock()

		return
	}
	r.session = nil
	cause := sess.Err()
	if cause == nil {
		cause = errors.New("session closed")
	}
	r.logger.Warn("connection lost", "target", r.target.String(), "session_id", sess.ID(), "error", cause)
	r.enqueueLocked(connectors.TopicMediaStatus, domain.EmptyMediaStatus())
	r.scheduleLocked(gen, cause)
	r.mu.Unlock()
	r.flush()
}

func (r *Reconnector) scheduleLocked(gen uint64, cause error) {
	r.attempt++
	if r.attempt > r.cfg.MaxAttempts {
		r.logger.Error("giving up reconnecting", "target", r.target.String(), "attempts", r.cfg.MaxAttempts)
		r.setStatusLocked(domain.ConnectionStatus{
			State:    domain.ConnectionStateDisconnected,
			Terminal: true,
			Err:      cause.Error(),
		})

		return
	}

	attempt := r.attempt
	delay := r.cfg.Delay(attempt)
	r.setStatusLocked(domain.ConnectionStatus{
		State:     domain.ConnectionStateReconnecting,
		Attempt:   attempt,
		NextDelay: delay,
		Err:       cause.Error(),
	})
	r.metrics.ReconnectAttempt()

	target := r.target
	r.timer = r.afterFunc(delay, func() {
		r.mu.Lock()
		if gen != r.generation {
			r.mu.Unlock()

			return
		}
		r.timer = nil
		r.mu.Unlock()

		r.logger.Info("reconnecting", "target", target.String(), "attempt", attempt)
		r.connect(gen, target)
	})
}

// resetLocked invalidates pending work and returns the session to close.
func (r *Reconnector) resetLocked() Session {
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	old := r.session
	r.session = nil

	return old
}

func (r *Reconnector) setStatusLocked(status domain.ConnectionStatus) {
	status.Target = r.target
	status.MaxAttempts = r.cfg.MaxAttempts
	status.Timestamp = r.now()
	r.status = status
	r.metrics.SetConnectionState(string(status.State))
	r.enqueueLocked(connectors.TopicConnStatus, status)
}

func (r *Reconnector) enqueueLocked(topic string, msg any) {
	if r.bus == nil {
		return
	}
	r.outbox = append(r.outbox, event{topic: topic, msg: msg})
}

// flush publishes queued events in order. Only one goroutine drains at a
// time; others leave their events to it.
func (r *Reconnector) flush() {
	r.mu.Lock()
	if r.flushing {
		r.mu.Unlock()

		return
	}
	r.flushing = true
	for len(r.outbox) > 0 {
		batch := r.outbox
		r.outbox = nil
		r.mu.Unlock()
		for _, ev := range batch {
			r.bus.Publish(ev.topic, ev.msg)
		}
		r.mu.Lock()
	}
	r.flushing = false
	r.mu.Unlock()
}

func closeSession(s Session) {
	if s == nil {
		return
	}
	_ = s.Close()
}
