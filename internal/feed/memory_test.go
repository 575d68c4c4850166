package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nfrund/bizdash/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	recs []Record
}

func (r *recorder) handle(_ context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.recs))
	for _, rec := range r.recs {
		ids = append(ids, rec.ID())
	}
	return ids
}

func newTestFeed(t *testing.T) *MemoryFeed {
	t.Helper()
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	return NewMemoryFeed(bus)
}

func write(t *testing.T, f Feed, collection, id string, ts int64) {
	t.Helper()
	require.NoError(t, f.Write(context.Background(), collection, id, map[string]any{
		FieldMessageID: id,
		"timestamp":    ts,
		"content":      "body " + id,
	}))
}

func TestMemoryFeed_WriteMergesFields(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	write(t, f, "messages", "m1", 100)
	require.NoError(t, f.Write(ctx, "messages", "m1", map[string]any{"read": true}))

	recs, err := f.QueryRecent(ctx, "messages", OrderField, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "body m1", recs[0].String("content"))
	assert.True(t, recs[0].Bool("read"))
}

func TestMemoryFeed_WriteUnionAddsToArray(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "messages", "m1", map[string]any{
		FieldMessageID: "m1",
		"timestamp":    int64(100),
		"read_by":      []string{"U1"},
	}))
	require.NoError(t, f.Write(ctx, "messages", "m1", map[string]any{"read_by": Union{"U2"}}))
	require.NoError(t, f.Write(ctx, "messages", "m1", map[string]any{"read_by": Union{"U1", "U3"}}))
	require.NoError(t, f.Write(ctx, "messages", "m2", map[string]any{"read_by": Union{"U4"}}))

	recs, err := f.QueryRecent(ctx, "messages", OrderField, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byID := map[string]Record{recs[0].ID(): recs[0], recs[1].ID(): recs[1]}
	assert.Equal(t, []string{"U1", "U2", "U3"}, byID["m1"].Strings("read_by"))
	assert.Equal(t, []string{"U4"}, byID["m2"].Strings("read_by"), "a union on a missing field starts a new array")
}

func TestMemoryFeed_QueryRecent(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	write(t, f, "messages", "m1", 100)
	write(t, f, "messages", "m3", 300)
	write(t, f, "messages", "m2", 200)
	write(t, f, "messages", "m2b", 200)
	write(t, f, "other", "x", 999)

	recs, err := f.QueryRecent(ctx, "messages", OrderField, 3)
	require.NoError(t, err)
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"m3", "m2b", "m2"}, ids)

	recs, err = f.QueryRecent(ctx, "empty", OrderField, 3)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = f.QueryRecent(ctx, "messages", OrderField, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemoryFeed_QueryRecentReturnsCopies(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()
	write(t, f, "messages", "m1", 100)

	recs, err := f.QueryRecent(ctx, "messages", OrderField, 1)
	require.NoError(t, err)
	recs[0]["content"] = "mutated"

	recs, err = f.QueryRecent(ctx, "messages", OrderField, 1)
	require.NoError(t, err)
	assert.Equal(t, "body m1", recs[0].String("content"))
}

func TestMemoryFeed_RejectsInvalidCollection(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.Write(ctx, "bad name", "m1", nil), ErrInvalidCollection)
	_, err := f.QueryRecent(ctx, "messages", "time stamp", 1)
	assert.ErrorIs(t, err, ErrInvalidCollection)
	_, err = f.SubscribeAppended(ctx, "", 1, OldestFirst, func(context.Context, Record) {})
	assert.ErrorIs(t, err, ErrInvalidCollection)
}

func TestMemoryFeed_SubscribeSnapshotOrder(t *testing.T) {
	f := newTestFeed(t)
	for i := 1; i <= 6; i++ {
		write(t, f, "messages", fmt.Sprintf("m%d", i), int64(i*100))
	}

	t.Run("oldest first", func(t *testing.T) {
		var r recorder
		dispose, err := f.SubscribeAppended(context.Background(), "messages", 3, OldestFirst, r.handle)
		require.NoError(t, err)
		defer dispose()
		assert.Equal(t, []string{"m4", "m5", "m6"}, r.ids())
	})

	t.Run("newest first", func(t *testing.T) {
		var r recorder
		dispose, err := f.SubscribeAppended(context.Background(), "messages", 3, NewestFirst, r.handle)
		require.NoError(t, err)
		defer dispose()
		assert.Equal(t, []string{"m6", "m5", "m4"}, r.ids())
	})
}

func TestMemoryFeed_SubscribeDeliversAppendsOnce(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()
	write(t, f, "messages", "m1", 100)

	var r recorder
	dispose, err := f.SubscribeAppended(ctx, "messages", 50, OldestFirst, r.handle)
	require.NoError(t, err)
	defer dispose()

	write(t, f, "messages", "m2", 200)
	write(t, f, "messages", "m3", 300)
	// Updates to existing records are not appends.
	require.NoError(t, f.Write(ctx, "messages", "m2", map[string]any{"read": true}))
	write(t, f, "other", "x", 400)

	assert.Equal(t, []string{"m1", "m2", "m3"}, r.ids())
}

func TestMemoryFeed_DisposeIsIdempotentAndStopsDelivery(t *testing.T) {
	f := newTestFeed(t)

	var r recorder
	dispose, err := f.SubscribeAppended(context.Background(), "announcements", 5, NewestFirst, r.handle)
	require.NoError(t, err)

	write(t, f, "announcements", "a1", 100)
	dispose()
	dispose()
	write(t, f, "announcements", "a2", 200)

	assert.Equal(t, []string{"a1"}, r.ids())
}

func TestMemoryFeed_ListenersAreIndependent(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	var a, b recorder
	da, err := f.SubscribeAppended(ctx, "messages", 5, OldestFirst, a.handle)
	require.NoError(t, err)
	defer da()
	db, err := f.SubscribeAppended(ctx, "messages", 5, OldestFirst, b.handle)
	require.NoError(t, err)

	write(t, f, "messages", "m1", 100)
	db()
	write(t, f, "messages", "m2", 200)

	assert.Equal(t, []string{"m1", "m2"}, a.ids())
	assert.Equal(t, []string{"m1"}, b.ids())
}
