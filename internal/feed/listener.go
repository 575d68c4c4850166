package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// listener applies the delivery rules shared by every Feed: the snapshot
// goes out before any live record, and each id is delivered once.
type listener struct {
	collection string
	cb         Handler
	logger     *slog.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	closed atomic.Bool
}

func newListener(collection string, cb Handler, logger *slog.Logger) *listener {
	return &listener{
		collection: collection,
		cb:         cb,
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

// hold blocks live deliveries until release is called. Feeds take it
// before attaching to the live stream so nothing overtakes the snapshot.
func (l *listener) hold() {
	l.mu.Lock()
}

func (l *listener) release() {
	l.mu.Unlock()
}

// deliverSnapshotLocked sends recent records, given newest first, in the
// requested order. The caller must hold the listener.
func (l *listener) deliverSnapshotLocked(ctx context.Context, newestFirst []Record, order Order) {
	if order == NewestFirst {
		for _, rec := range newestFirst {
			l.deliverLocked(ctx, rec)
		}
		return
	}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		l.deliverLocked(ctx, newestFirst[i])
	}
}

func (l *listener) deliver(ctx context.Context, rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliverLocked(ctx, rec)
}

func (l *listener) deliverLocked(ctx context.Context, rec Record) {
	if l.closed.Load() {
		return
	}
	id := rec.ID()
	if id == "" {
		l.logger.Warn("Dropping record without message id", "collection", l.collection)
		return
	}
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.cb(ctx, rec)
}

// stop marks the listener closed; it never blocks on an in-flight delivery.
func (l *listener) stop() {
	l.closed.Store(true)
}

// onceDisposer wraps fn so only the first call runs it.
func onceDisposer(fn func()) Disposer {
	var once sync.Once
	return func() {
		once.Do(fn)
	}
}
