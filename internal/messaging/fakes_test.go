package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/nfrund/bizdash/internal/pubsub"
	"github.com/nfrund/bizdash/internal/storage"
)

var (
	errDiskFull = errors.New("disk full")
	errOffline  = errors.New("remote unreachable")
)

// flakyStore is a MemoryStore with switchable failures.
type flakyStore struct {
	*storage.MemoryStore

	mu         sync.Mutex
	failPut    bool
	failGet    bool
	failGetAll bool
	puts       int
	gets       int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *flakyStore) set(fn func(*flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *flakyStore) Put(ctx context.Context, collection, id string, record []byte) error {
	s.mu.Lock()
	fail := s.failPut
	s.puts++
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.MemoryStore.Put(ctx, collection, id, record)
}

func (s *flakyStore) Get(ctx context.Context, collection, id string) ([]byte, bool, error) {
	s.mu.Lock()
	fail := s.failGet
	s.gets++
	s.mu.Unlock()
	if fail {
		return nil, false, errDiskFull
	}
	return s.MemoryStore.Get(ctx, collection, id)
}

func (s *flakyStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	s.mu.Lock()
	fail := s.failGetAll
	s.mu.Unlock()
	if fail {
		return nil, errDiskFull
	}
	return s.MemoryStore.GetAll(ctx, collection)
}

func (s *flakyStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *flakyStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *flakyStore) cached(t *testing.T, id string) *domain.Message {
	t.Helper()
	data, ok, err := s.MemoryStore.Get(context.Background(), DefaultMessagesCollection, id)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !ok {
		return nil
	}
	m, err := decodeLocal(data)
	if err != nil {
		t.Fatalf("cache decode: %v", err)
	}
	return m
}

type feedWrite struct {
	collection string
	id         string
	payload    map[string]any
}

// flakyFeed records writes to an in-process MemoryFeed and can fail any
// operation on demand.
type flakyFeed struct {
	inner *feed.MemoryFeed

	mu            sync.Mutex
	failWrite     bool
	failQuery     bool
	failSubscribe map[string]bool
	writes        []feedWrite
	opened        int
	disposed      int
}

func newFlakyFeed(t *testing.T) *flakyFeed {
	t.Helper()
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	return &flakyFeed{
		inner:         feed.NewMemoryFeed(bus),
		failSubscribe: map[string]bool{},
	}
}

func (f *flakyFeed) set(fn func(*flakyFeed)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyFeed) Write(ctx context.Context, collection, id string, payload map[string]any) error {
	f.mu.Lock()
	f.writes = append(f.writes, feedWrite{collection: collection, id: id, payload: payload})
	fail := f.failWrite
	f.mu.Unlock()
	if fail {
		return errOffline
	}
	return f.inner.Write(ctx, collection, id, payload)
}

func (f *flakyFeed) QueryRecent(ctx context.Context, collection, orderField string, limit int) ([]feed.Record, error) {
	f.mu.Lock()
	fail := f.failQuery
	f.mu.Unlock()
	if fail {
		return nil, errOffline
	}
	return f.inner.QueryRecent(ctx, collection, orderField, limit)
}

func (f *flakyFeed) SubscribeAppended(ctx context.Context, collection string, limit int, order feed.Order, cb feed.Handler) (feed.Disposer, error) {
	f.mu.Lock()
	fail := f.failSubscribe[collection]
	f.mu.Unlock()
	if fail {
		return nil, errOffline
	}
	dispose, err := f.inner.SubscribeAppended(ctx, collection, limit, order, cb)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.disposed++
		f.mu.Unlock()
		dispose()
	}, nil
}

func (f *flakyFeed) recordedWrites() []feedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedWrite(nil), f.writes...)
}

func (f *flakyFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *flakyFeed) disposeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

// appendRemote simulates another client writing to the feed.
func (f *flakyFeed) appendRemote(t *testing.T, m *domain.Message) {
	t.Helper()
	if err := f.inner.Write(context.Background(), DefaultMessagesCollection, m.ID, remotePayload(m)); err != nil {
		t.Fatalf("remote append: %v", err)
	}
}

func (f *flakyFeed) announce(t *testing.T, id, content string, broadcast bool, ts time.Time) {
	t.Helper()
	err := f.inner.Write(context.Background(), DefaultAnnouncementsCollection, id, map[string]any{
		feed.FieldMessageID: id,
		fieldContent:        content,
		fieldIsBroadcast:    broadcast,
		fieldTimestamp:      ts.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
}

// deliveries collects subscription callbacks.
type deliveries struct {
	mu  sync.Mutex
	got []Delivery
}

func (d *deliveries) handle(_ context.Context, del Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, del)
}

func (d *deliveries) ids(stream Stream) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, del := range d.got {
		if del.Stream == stream {
			ids = append(ids, del.Message.ID)
		}
	}
	return ids
}

func (d *deliveries) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

// fixedClock hands out strictly increasing millisecond timestamps.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

type harness struct {
	sync  *Synchronizer
	store *flakyStore
	feed  *flakyFeed
	clock *fixedClock
	cloud bool
}

func newHarness(t *testing.T, cloud bool, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: newFlakyStore(),
		feed:  newFlakyFeed(t),
		clock: newFixedClock(),
		cloud: cloud,
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithIDGenerator(sequentialIDs("msg")),
		WithCloudIdentity(func() bool { return h.cloud }),
	}
	h.sync = NewSynchronizer(h.store, h.feed, append(base, opts...)...)
	return h
}

// newPeer is a second client on its own cache, sharing h's remote feed.
func newPeer(t *testing.T, h *harness) *harness {
	t.Helper()
	p := &harness{
		store: newFlakyStore(),
		feed:  h.feed,
		clock: newFixedClock(),
		cloud: true,
	}
	p.sync = NewSynchronizer(p.store, p.feed,
		WithClock(p.clock.Now),
		WithIDGenerator(sequentialIDs("peer")),
		WithCloudIdentity(func() bool { return p.cloud }),
	)
	return p
}

func directMessage(id, from, to string, ts time.Time) *domain.Message {
	return &domain.Message{
		ID:          id,
		SenderID:    from,
		SenderName:  "Name " + from,
		RecipientID: to,
		Content:     "content of " + id,
		Type:        domain.TypeChat,
		Timestamp:   ts,
	}
}
