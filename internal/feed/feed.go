// Package feed is the client side of the remote message streams. A Feed
// holds named append-only collections and supports point writes, bounded
// recent reads and live listeners for newly appended records.
package feed

import (
	"context"
	"errors"
	"slices"
)

// ErrInvalidCollection is returned for collection or field names that are
// not plain identifiers.
var ErrInvalidCollection = errors.New("invalid collection name")

// Order selects how a listener's initial snapshot is delivered.
type Order int

const (
	// OldestFirst delivers the snapshot in append order.
	OldestFirst Order = iota
	// NewestFirst delivers the most recent record first.
	NewestFirst
)

// Handler receives one appended record. A listener never calls its
// handler concurrently with itself.
type Handler func(ctx context.Context, rec Record)

// Disposer stops a listener. Calling it more than once is a no-op.
type Disposer func()

// Feed is the remote side of the synchronizer.
type Feed interface {
	// Write upserts payload into the record id of collection. Fields not
	// present in payload are left as they are. A Union value adds its
	// elements to the stored array instead of replacing it.
	Write(ctx context.Context, collection, id string, payload map[string]any) error

	// QueryRecent returns at most limit records ordered by orderField,
	// newest first.
	QueryRecent(ctx context.Context, collection, orderField string, limit int) ([]Record, error)

	// SubscribeAppended delivers the most recent limit records in the given
	// order and then every newly created record, each id at most once.
	SubscribeAppended(ctx context.Context, collection string, limit int, order Order, cb Handler) (Disposer, error)
}

// Union is a Write payload value that adds its elements to the array
// already stored in the field. Concurrent unions from different writers
// never drop each other's elements.
type Union []string

// unionStrings appends the elements of add missing from have.
func unionStrings(have []string, add Union) []string {
	out := append([]string(nil), have...)
	for _, v := range add {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// OrderField is the field every collection is ordered by.
const OrderField = "timestamp"
