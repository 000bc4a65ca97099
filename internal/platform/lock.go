package platform

import (
	"errors"
	"strings"
)

// ErrLockHeld indicates another process already holds the named lock.
var ErrLockHeld = errors.New("lock is held by another process")

// ErrLockUnsupported indicates the current platform has no lock backend implementation.
var ErrLockUnsupported = errors.New("process lock unsupported")

// ProcessLock is an acquired per-user, cross-process lock. The OS drops it
// when the owning process exits.
type ProcessLock interface {
	Release() error
}

// AcquireLock takes the lock identified by appID and name without blocking.
// The remote uses it to keep a single controller process per user.
func AcquireLock(appID, name string) (ProcessLock, error) {
	return acquireLock(lockComponent(appID, "app"), lockComponent(name, "default"))
}

// lockComponent maps raw text to a file and mutex name safe token.
func lockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	normalized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, raw)

	normalized = strings.Trim(normalized, "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
