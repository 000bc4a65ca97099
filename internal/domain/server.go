package domain

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAddress reports a server address or port that cannot identify an endpoint.
var ErrInvalidAddress = errors.New("invalid server address")

const (
	MinPort = 1
	MaxPort = 65535
)

// ServerStatus is the last observed reachability of a known server.
type ServerStatus string

const (
	ServerStatusUnknown  ServerStatus = "unknown"
	ServerStatusChecking ServerStatus = "checking"
	ServerStatusOnline   ServerStatus = "online"
	ServerStatusOffline  ServerStatus = "offline"
)

// ParseServerStatus maps persisted values back to a status, unknown values become ServerStatusUnknown.
func ParseServerStatus(raw string) ServerStatus {
	switch ServerStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ServerStatusChecking:
		return ServerStatusChecking
	case ServerStatusOnline:
		return ServerStatusOnline
	case ServerStatusOffline:
		return ServerStatusOffline
	default:
		return ServerStatusUnknown
	}
}

// ServerKey is the registry identity of a server.
type ServerKey struct {
	Address string
	Port    int
}

func NewServerKey(address string, port int) ServerKey {
	return ServerKey{Address: strings.TrimSpace(address), Port: port}
}

func (k ServerKey) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
}

func (k ServerKey) Validate() error {
	return ValidateEndpoint(k.Address, k.Port)
}

// Less orders keys by address and then by port.
func (k ServerKey) Less(other ServerKey) bool {
	if k.Address != other.Address {
		return k.Address < other.Address
	}

	return k.Port < other.Port
}

// ServerRecord is the persisted identity and last known state of a media server.
type ServerRecord struct {
	Name     string
	Address  string
	Port     int
	Status   ServerStatus
	LastSeen time.Time
}

func (r ServerRecord) Key() ServerKey {
	return NewServerKey(r.Address, r.Port)
}

func (r ServerRecord) HasLastSeen() bool {
	return !r.LastSeen.IsZero()
}

func (r ServerRecord) Validate() error {
	return ValidateEndpoint(r.Address, r.Port)
}

// Normalized trims the identity fields and fills the name and status defaults.
func (r ServerRecord) Normalized() ServerRecord {
	r.Address = strings.TrimSpace(r.Address)
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = DefaultServerName(r.Address)
	}
	if r.Status == "" {
		r.Status = ServerStatusUnknown
	}

	return r
}

func ValidateEndpoint(address string, port int) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}
	if strings.ContainsAny(address, " /\\?#") {
		return fmt.Errorf("%w: %q contains unsupported characters", ErrInvalidAddress, address)
	}
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: port %d is outside %d-%d", ErrInvalidAddress, port, MinPort, MaxPort)
	}

	return nil
}

// DefaultServerName is the display label used for manually entered servers.
func DefaultServerName(address string) string {
	return fmt.Sprintf("IINA Server (%s)", strings.TrimSpace(address))
}

// DeepLinkServerName is the display label used for servers opened from a link.
func DeepLinkServerName(address string) string {
	return fmt.Sprintf("Server (%s)", strings.TrimSpace(address))
}

// FormatLastSeen renders a coarse relative age like "5m ago".
func FormatLastSeen(lastSeen, now time.Time) string {
	if lastSeen.IsZero() {
		return "never"
	}
	diff := now.Sub(lastSeen)
	mins := int(diff / time.Minute)
	if mins < 1 {
		return "just now"
	}
	if mins < 60 {
		return fmt.Sprintf("%dm ago", mins)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}

	return fmt.Sprintf("%dd ago", hours/24)
}
