package persistence

import (
	"context"
	"errors"
)

// Keys of the persisted registry layout.
const (
	KeyDiscoveredServers = "iina-discovered-servers"
	KeyServerAddress     = "iina-server-address"
	KeyServerPort        = "iina-server-port"
)

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

var ErrClosed = errors.New("store is closed")

// KVStore is a durable string map. Set and Delete return only after the change is stored.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Clearer is implemented by stores that can drop every key in one write.
type Clearer interface {
	Clear(ctx context.Context) error
}

var (
	_ Clearer = (*SQLiteStore)(nil)
	_ Clearer = (*FileStore)(nil)
)
