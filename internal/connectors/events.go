package connectors

import (
	"time"

	"github.com/skobkin/mediaremote/internal/domain"
)

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	SessionID string
	Text      string
	Len       int
}

// ServerIdentified is emitted when a live session receives identify_response.
type ServerIdentified struct {
	SessionID   string
	Target      domain.ServerKey
	Application string
	Name        string
	At          time.Time
}

// RegistryChangeKind names the mutation applied to the server registry.
type RegistryChangeKind string

const (
	RegistryChangeUpsert RegistryChangeKind = "upsert"
	RegistryChangeRemove RegistryChangeKind = "remove"
	RegistryChangeStatus RegistryChangeKind = "status"
	RegistryChangeLoad   RegistryChangeKind = "load"
	RegistryChangeClear  RegistryChangeKind = "clear"
)

// RegistryChanged is published after a registry mutation has been persisted.
type RegistryChanged struct {
	Kind   RegistryChangeKind
	Key    domain.ServerKey
	Record domain.ServerRecord
}

// ServerDiscovered is published when discovery confirms a compatible server.
type ServerDiscovered struct {
	Record domain.ServerRecord
	Source string
}
