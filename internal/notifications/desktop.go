package notifications

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

type notifyFunc func(title, message string, icon any) error

var appNameOnce sync.Once

// DesktopSender delivers notifications through the OS notification center.
// Delivery failures are logged and otherwise ignored.
type DesktopSender struct {
	notify notifyFunc
	logger *slog.Logger
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if name := strings.TrimSpace(appName); name != "" {
		appNameOnce.Do(func() { beeep.AppName = name })
	}

	return &DesktopSender{notify: beeep.Notify, logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if err := s.notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Warn("desktop notification failed", "title", payload.Title, "error", err)
	}
}
