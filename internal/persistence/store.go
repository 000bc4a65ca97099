package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

type StoreOptions struct {
	Backend  string
	DBPath   string
	FilePath string
	Fs       afero.Fs
}

// OpenStore opens the backend named in opts. An empty backend selects sqlite.
func OpenStore(ctx context.Context, opts StoreOptions) (KVStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		return OpenSQLiteStore(ctx, opts.DBPath)
	case BackendFile:
		return NewFileStore(opts.Fs, opts.FilePath), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
