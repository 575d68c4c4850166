package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nfrund/bizdash/internal/database"
	"github.com/nfrund/bizdash/internal/pubsub"
)

// MemoryFeed is an in-process Feed. Records live in memory and appends are
// fanned out to listeners over the pub/sub bus, one topic per collection.
type MemoryFeed struct {
	bus    pubsub.Bus
	logger *slog.Logger

	writeMu sync.Mutex // serializes writers so appends publish in order
	mu      sync.RWMutex
	tables  map[string]*memTable
}

type memTable struct {
	records map[string]Record
	order   []string
}

var _ Feed = (*MemoryFeed)(nil)

// NewMemoryFeed creates an empty feed publishing appends on bus.
func NewMemoryFeed(bus pubsub.Bus) *MemoryFeed {
	return &MemoryFeed{
		bus:    bus,
		logger: slog.Default().With("service", "memory_feed"),
		tables: make(map[string]*memTable),
	}
}

func appendTopic(collection string) pubsub.Topic[Record] {
	return pubsub.NewTopic[Record]("feed." + collection + ".appended")
}

// Write implements Feed. A write to a new id is an append and is published
// to listeners; a write to an existing id merges fields silently.
func (f *MemoryFeed) Write(ctx context.Context, collection, id string, payload map[string]any) error {
	if !database.ValidIdentifier(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	t, ok := f.tables[collection]
	if !ok {
		t = &memTable{records: make(map[string]Record)}
		f.tables[collection] = t
	}
	rec, exists := t.records[id]
	if !exists {
		rec = Record{}
		t.order = append(t.order, id)
	}
	rec = rec.clone()
	for k, v := range payload {
		if u, ok := v.(Union); ok {
			rec[k] = unionStrings(rec.Strings(k), u)
			continue
		}
		rec[k] = v
	}
	t.records[id] = rec
	f.mu.Unlock()

	if exists {
		return nil
	}
	return pubsub.Publish(ctx, f.bus, appendTopic(collection), id, rec)
}

// QueryRecent implements Feed. Ties on orderField go to the later append.
func (f *MemoryFeed) QueryRecent(ctx context.Context, collection, orderField string, limit int) ([]Record, error) {
	if !database.ValidIdentifier(collection) || !database.ValidIdentifier(orderField) {
		return nil, fmt.Errorf("%w: %q ordered by %q", ErrInvalidCollection, collection, orderField)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	t, ok := f.tables[collection]
	if !ok {
		f.mu.RUnlock()
		return nil, nil
	}
	records := make([]Record, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		records = append(records, t.records[t.order[i]].clone())
	}
	f.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Int64(orderField) > records[j].Int64(orderField)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// SubscribeAppended implements Feed.
func (f *MemoryFeed) SubscribeAppended(ctx context.Context, collection string, limit int, order Order, cb Handler) (Disposer, error) {
	if !database.ValidIdentifier(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}

	l := newListener(collection, cb, f.logger)
	l.hold()
	defer l.release()

	subCtx, cancel := context.WithCancel(context.Background())
	err := pubsub.Subscribe(subCtx, f.bus, appendTopic(collection), func(ctx context.Context, _ string, rec Record) error {
		l.deliver(ctx, rec)
		return nil
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	dispose := onceDisposer(func() {
		l.stop()
		cancel()
	})

	snapshot, err := f.QueryRecent(ctx, collection, OrderField, limit)
	if err != nil {
		dispose()
		return nil, err
	}
	l.deliverSnapshotLocked(ctx, snapshot, order)

	return dispose, nil
}
