package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// keySep separates the collection from the record id. Ids never contain it
// because the collection prefix is always the first segment.
const keySep = 0x00

// PebbleStore is the default durable backend.
//
// Key format: <collection>\x00<id>
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database at the given path.
func OpenPebble(path string) (*PebbleStore, error) {
	slog.Info("Opening pebble cache", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		slog.Error("Failed to open pebble cache", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func recordKey(collection, id string) []byte {
	key := make([]byte, 0, len(collection)+1+len(id))
	key = append(key, collection...)
	key = append(key, keySep)
	return append(key, id...)
}

// collectionBounds returns the [lower, upper) key range of a collection.
func collectionBounds(collection string) ([]byte, []byte) {
	lower := append([]byte(collection), keySep)
	upper := append([]byte(collection), keySep+1)
	return lower, upper
}

// Put upserts a record with a synced write.
func (s *PebbleStore) Put(ctx context.Context, collection, id string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Set(recordKey(collection, id), record, pebble.Sync)
}

// Get returns a copy of the stored record.
func (s *PebbleStore) Get(ctx context.Context, collection, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, closer, err := s.db.Get(recordKey(collection, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// GetAll scans the collection's key range.
func (s *PebbleStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower, upper := collectionBounds(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		records = append(records, append([]byte(nil), iter.Value()...))
	}
	return records, iter.Error()
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
