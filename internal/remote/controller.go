package remote

import (
	"context"
	"log/slog"
	"sync"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/protocol"
	"github.com/skobkin/mediaremote/internal/reconnect"
	"github.com/skobkin/mediaremote/internal/session"
)

// ErrNotConnected is returned by commands sent while no session is open.
var ErrNotConnected = session.ErrNotConnected

const (
	DefaultSkipAmount = 10
	VolumeStep        = 5
	MinVolume         = 0
	MaxVolume         = 100
)

// Supervisor exposes the connection owned by the reconnector.
type Supervisor interface {
	Session() reconnect.Session
	State() domain.ConnectionStatus
}

// Controller is the command and status surface for UI code.
type Controller struct {
	bus    bus.MessageBus
	sup    Supervisor
	logger *slog.Logger

	mu     sync.RWMutex
	status domain.MediaStatus

	stop     context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(b bus.MessageBus, sup Supervisor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default().With("component", "remote")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		bus:    b,
		sup:    sup,
		logger: logger,
		status: domain.EmptyMediaStatus(),
		stop:   cancel,
	}

	sub := b.Subscribe(connectors.TopicMediaStatus)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer b.Unsubscribe(sub, connectors.TopicMediaStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				if status, ok := msg.(domain.MediaStatus); ok {
					c.mu.Lock()
					c.status = status
					c.mu.Unlock()
				}
			}
		}
	}()

	return c
}

// Close stops status tracking. Subscriptions made with On* stay until cancelled.
func (c *Controller) Close() {
	c.stopOnce.Do(func() {
		c.stop()
		c.wg.Wait()
	})
}

// SendCommand forwards cmd to the open session.
func (c *Controller) SendCommand(ctx context.Context, cmd protocol.Command) error {
	sess := c.sup.Session()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.Send(ctx, cmd); err != nil {
		c.logger.Debug("command failed", "type", cmd.Type(), "error", err)

		return err
	}

	return nil
}

func (c *Controller) CurrentStatus() domain.MediaStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

func (c *Controller) CurrentConnectionState() domain.ConnectionStatus {
	return c.sup.State()
}

// OnStatus calls fn with merged status snapshots. Snapshots superseded before fn
// got to them are skipped. The returned func cancels the subscription.
func (c *Controller) OnStatus(fn func(domain.MediaStatus)) (cancel func()) {
	return c.subscribe(connectors.TopicMediaStatus, true, func(msg any) {
		if status, ok := msg.(domain.MediaStatus); ok {
			fn(status)
		}
	})
}

// OnConnectionStateChange calls fn for every connection state transition.
func (c *Controller) OnConnectionStateChange(fn func(domain.ConnectionStatus)) (cancel func()) {
	return c.subscribe(connectors.TopicConnStatus, false, func(msg any) {
		if status, ok := msg.(domain.ConnectionStatus); ok {
			fn(status)
		}
	})
}

// OnServerIdentified calls fn when a live session receives the server identity.
func (c *Controller) OnServerIdentified(fn func(connectors.ServerIdentified)) (cancel func()) {
	return c.subscribe(connectors.TopicServerIdentified, false, func(msg any) {
		if event, ok := msg.(connectors.ServerIdentified); ok {
			fn(event)
		}
	})
}

func (c *Controller) subscribe(topic string, latestOnly bool, handle func(any)) func() {
	sub := c.bus.Subscribe(topic)
	ctx, cancel := context.WithCancel(context.Background())

	var source <-chan any = sub
	if latestOnly {
		source = bus.Latest(ctx, sub)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-source:
				if !ok {
					return
				}
				handle(msg)
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			c.bus.Unsubscribe(sub, topic)
			cancel()
		})
	}
}
