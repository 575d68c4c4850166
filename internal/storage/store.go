package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store is the local durable cache. Records are opaque documents grouped
// into collections and keyed by id.
type Store interface {
	// Put upserts the record stored under id.
	Put(ctx context.Context, collection, id string, record []byte) error
	// Get returns the record and whether it was found. Absence is not an error.
	Get(ctx context.Context, collection, id string) ([]byte, bool, error)
	// GetAll returns every record in the collection in no particular order.
	GetAll(ctx context.Context, collection string) ([][]byte, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendPebble = "pebble"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open creates the store for the configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendPebble, "":
		return OpenPebble(path)
	case BackendFile:
		return NewFileStore(newOsFs(), filepath.Clean(path)), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
