package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/config"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/notifications"
)

const (
	notificationTitleServerFound = "IINA server found"
)

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	mu               sync.Mutex
	lastConnState    domain.ConnectionState
	lastConnStateSet bool
	announced        map[domain.ServerKey]struct{}
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
		announced:     make(map[domain.ServerKey]struct{}),
	}
}

// Start consumes events until ctx is done. The returned channel closes once
// the consumer goroutine exits.
func (s *NotificationService) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s == nil || s.bus == nil || s.sender == nil {
		close(done)

		return done
	}

	connSub := s.bus.Subscribe(connectors.TopicConnStatus)
	discoveredSub := s.bus.Subscribe(connectors.TopicServerDiscovered)

	go func() {
		defer close(done)
		defer s.bus.Unsubscribe(connSub, connectors.TopicConnStatus)
		defer s.bus.Unsubscribe(discoveredSub, connectors.TopicServerDiscovered)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				if status, ok := raw.(domain.ConnectionStatus); ok {
					s.handleConnectionStatus(status)
				}
			case raw, ok := <-discoveredSub:
				if !ok {
					return
				}
				if event, ok := raw.(connectors.ServerDiscovered); ok {
					s.handleServerDiscovered(event)
				}
			}
		}
	}()

	return done
}

func (s *NotificationService) handleConnectionStatus(status domain.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.mu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.mu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.mu.Unlock()

	// Intermediate states flap during backoff and would spam the desktop.
	if status.State != domain.ConnectionStateConnected &&
		status.State != domain.ConnectionStateDisconnected {
		return
	}
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.ConnectionStatus {
		return
	}

	details := "No server selected"
	if status.Target.Address != "" {
		details = status.Target.String()
	}
	title := "IINA - " + string(status.State)
	if status.Terminal {
		title = "IINA - could not reconnect"
	}
	if status.State == domain.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(notifications.Payload{Title: title, Content: details})
}

func (s *NotificationService) handleServerDiscovered(event connectors.ServerDiscovered) {
	key := event.Record.Key()

	s.mu.Lock()
	if _, seen := s.announced[key]; seen {
		s.mu.Unlock()

		return
	}
	s.announced[key] = struct{}{}
	s.mu.Unlock()

	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.ServerDiscovered {
		return
	}

	name := strings.TrimSpace(event.Record.Name)
	if name == "" {
		name = domain.DefaultServerName(event.Record.Address)
	}
	s.send(notifications.Payload{
		Title:   notificationTitleServerFound,
		Content: fmt.Sprintf("%s at %s", name, key),
	})
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{Title: title, Content: content})
}
