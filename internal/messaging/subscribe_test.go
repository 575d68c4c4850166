package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func subscribe(t *testing.T, h *harness, actorID string, elevated bool) (*deliveries, *Subscription) {
	t.Helper()
	var d deliveries
	sub, err := h.sync.Subscribe(context.Background(), actorID, elevated, d.handle)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return &d, sub
}

func TestMergeDirected_IsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	rec := feed.Record(remotePayload(directMessage("remote-1", "U2", "U1", time.Now().UTC())))

	relevant := func(m *domain.Message) bool { return m.RelevantTo("U1", false) }

	delivered := 0
	for i := 0; i < 5; i++ {
		if h.sync.mergeDirected(ctx, rec, relevant) != nil {
			delivered++
		}
	}

	assert.Equal(t, 1, delivered)
	all, err := h.store.GetAll(ctx, DefaultMessagesCollection)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubscribe_DeliversRelevantRemoteMessages(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, u1.ID, false)
	now := time.Now().UTC()

	h.feed.appendRemote(t, directMessage("to-u1", "U2", "U1", now))
	h.feed.appendRemote(t, directMessage("to-u3", "U2", "U3", now))
	h.feed.appendRemote(t, directMessage("to-admin", "U2", domain.RecipientAdmin, now))
	h.feed.appendRemote(t, directMessage("to-all", "A1", domain.RecipientBroadcast, now))
	h.feed.appendRemote(t, directMessage("from-u1", "U1", "U3", now))

	assert.Eventually(t, func() bool { return len(d.ids(StreamDirected)) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"to-u1", "to-all", "from-u1"}, d.ids(StreamDirected))

	cached := h.store.cached(t, "to-u1")
	require.NotNil(t, cached, "delivered messages are cached")
	assert.Equal(t, "content of to-u1", cached.Content)
	assert.Nil(t, h.store.cached(t, "to-u3"))
}

func TestSubscribe_ElevatedSeesEverything(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, a1.ID, true)
	now := time.Now().UTC()

	h.feed.appendRemote(t, directMessage("m1", "U2", "U3", now))
	h.feed.appendRemote(t, directMessage("m2", "U2", domain.RecipientAdmin, now))

	assert.Eventually(t, func() bool { return len(d.ids(StreamDirected)) == 2 }, waitFor, tick)
}

func TestSubscribe_SkipsOwnEcho(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, u1.ID, false)
	ctx := context.Background()

	sent, err := h.sync.Send(ctx, u1, SendRequest{Content: "ping", Type: domain.TypeChat})
	require.NoError(t, err)
	// A marker appended afterwards proves the echo has been processed.
	h.feed.appendRemote(t, directMessage("marker", "U2", "U1", time.Now().UTC()))

	assert.Eventually(t, func() bool { return len(d.ids(StreamDirected)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"marker"}, d.ids(StreamDirected))
	assert.NotContains(t, d.ids(StreamDirected), sent.ID)
}

func TestSubscribe_SnapshotIsDedupedAgainstCache(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	sent, err := h.sync.Send(ctx, u1, SendRequest{Content: "already here", Type: domain.TypeChat})
	require.NoError(t, err)
	h.feed.appendRemote(t, directMessage("missed", "A1", "U1", time.Now().UTC()))

	d, _ := subscribe(t, h, u1.ID, false)

	assert.Eventually(t, func() bool { return len(d.ids(StreamDirected)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"missed"}, d.ids(StreamDirected))
	assert.NotNil(t, h.store.cached(t, sent.ID))
	assert.NotNil(t, h.store.cached(t, "missed"))
}

func TestSubscribe_OrderWithinDirectedStream(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, u1.ID, false)
	now := time.Now().UTC()

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("seq-%02d", i)
		want = append(want, id)
		h.feed.appendRemote(t, directMessage(id, "U2", "U1", now.Add(time.Duration(i)*time.Millisecond)))
	}

	assert.Eventually(t, func() bool { return len(d.ids(StreamDirected)) == len(want) }, waitFor, tick)
	assert.Equal(t, want, d.ids(StreamDirected))
}

func TestSubscribe_AnnouncementsAreNotCached(t *testing.T) {
	h := newHarness(t, true)
	base := time.Now().UTC()
	for i := 0; i < 7; i++ {
		h.feed.announce(t, fmt.Sprintf("old-%d", i), "history", true, base.Add(time.Duration(i)*time.Second))
	}

	d, _ := subscribe(t, h, u1.ID, false)
	h.feed.announce(t, "fresh", "Quarter close on Friday", false, base.Add(time.Minute))

	assert.Eventually(t, func() bool { return len(d.ids(StreamAnnouncements)) == DefaultAnnouncementLimit+1 }, waitFor, tick)
	assert.Equal(t, []string{"old-6", "old-5", "old-4", "old-3", "old-2", "fresh"}, d.ids(StreamAnnouncements))
	assert.Nil(t, h.store.cached(t, "fresh"))

	d.mu.Lock()
	last := d.got[len(d.got)-1].Message
	d.mu.Unlock()
	assert.Equal(t, domain.SenderSystem, last.SenderID)
	assert.Equal(t, domain.RecipientBroadcast, last.RecipientID)
	assert.Equal(t, domain.TypeChat, last.Type)
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	d, sub := subscribe(t, h, u1.ID, false)

	h.feed.appendRemote(t, directMessage("before", "U2", "U1", time.Now().UTC()))
	assert.Eventually(t, func() bool { return d.count() == 1 }, waitFor, tick)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("delivery loop did not stop")
	}
	assert.Equal(t, 2, h.feed.disposeCount(), "both listeners are disposed exactly once")

	h.feed.appendRemote(t, directMessage("after", "U2", "U1", time.Now().UTC()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestSubscribe_FailureClosesOpenedListener(t *testing.T) {
	h := newHarness(t, true)
	h.feed.set(func(f *flakyFeed) { f.failSubscribe[DefaultAnnouncementsCollection] = true })

	sub, err := h.sync.Subscribe(context.Background(), u1.ID, false, func(context.Context, Delivery) {})
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, domain.ErrRemoteRead)
	assert.Equal(t, 1, h.feed.disposeCount())
}

func TestSubscribe_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	h := newHarness(t, true)
	var d deliveries
	calls := 0
	sub, err := h.sync.Subscribe(context.Background(), u1.ID, false, func(ctx context.Context, del Delivery) {
		calls++
		if calls == 1 {
			panic("render failed")
		}
		d.handle(ctx, del)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.feed.appendRemote(t, directMessage("boom", "U2", "U1", time.Now().UTC()))
	h.feed.appendRemote(t, directMessage("ok", "U2", "U1", time.Now().UTC()))

	assert.Eventually(t, func() bool { return d.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"ok"}, d.ids(StreamDirected))
}

func TestSubscribe_CacheWriteFailureStillDelivers(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, u1.ID, false)
	h.store.set(func(s *flakyStore) { s.failPut = true })

	h.feed.appendRemote(t, directMessage("unsaved", "U2", "U1", time.Now().UTC()))

	assert.Eventually(t, func() bool { return d.count() == 1 }, waitFor, tick)
	assert.Nil(t, h.store.cached(t, "unsaved"))
}

func TestSubscribe_RejectsNilHandler(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.sync.Subscribe(context.Background(), u1.ID, false, nil)
	assert.Error(t, err)
}

func TestSubscribe_FansOutToEverySubscriber(t *testing.T) {
	h := newHarness(t, true)
	admin, _ := subscribe(t, h, a1.ID, true)
	uma, _ := subscribe(t, h, u1.ID, false)
	ugo, _ := subscribe(t, h, u2.ID, false)

	h.feed.appendRemote(t, directMessage("remote-to-u1", "U3", "U1", time.Now().UTC()))
	h.feed.appendRemote(t, directMessage("remote-to-u2", "U3", "U2", time.Now().UTC()))

	assert.Eventually(t, func() bool {
		return len(admin.ids(StreamDirected)) == 2 && len(uma.ids(StreamDirected)) == 1 && len(ugo.ids(StreamDirected)) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"remote-to-u1", "remote-to-u2"}, admin.ids(StreamDirected))
	assert.Equal(t, []string{"remote-to-u1"}, uma.ids(StreamDirected))
	assert.Equal(t, []string{"remote-to-u2"}, ugo.ids(StreamDirected))

	assert.Equal(t, 2, h.feed.openCount(), "subscriptions share one pair of listeners")
	assert.NotNil(t, h.store.cached(t, "remote-to-u1"))
}

func TestSubscribe_LocalSendReachesOtherSubscribers(t *testing.T) {
	for _, cloud := range []bool{true, false} {
		t.Run(fmt.Sprintf("cloud=%v", cloud), func(t *testing.T) {
			h := newHarness(t, cloud)
			admin, _ := subscribe(t, h, a1.ID, true)
			uma, _ := subscribe(t, h, u1.ID, false)
			ugo, _ := subscribe(t, h, u2.ID, false)

			sent, err := h.sync.Send(context.Background(), u2, SendRequest{Content: "see you at 3", Type: domain.TypeChat, RecipientID: u1.ID})
			require.NoError(t, err)
			h.feed.appendRemote(t, directMessage("marker", "U3", "U2", time.Now().UTC()))

			assert.Eventually(t, func() bool {
				return len(uma.ids(StreamDirected)) == 1 && len(admin.ids(StreamDirected)) == 2 && len(ugo.ids(StreamDirected)) == 1
			}, waitFor, tick)
			assert.Equal(t, []string{sent.ID}, uma.ids(StreamDirected))
			assert.Equal(t, []string{sent.ID, "marker"}, admin.ids(StreamDirected))
			assert.Equal(t, []string{"marker"}, ugo.ids(StreamDirected), "the sender is not sent its own message")
		})
	}
}

func TestSubscribe_LateSubscriberCatchesUp(t *testing.T) {
	h := newHarness(t, true)
	uma, _ := subscribe(t, h, u1.ID, false)
	now := time.Now().UTC()

	h.feed.appendRemote(t, directMessage("to-u1", "U3", "U1", now))
	h.feed.appendRemote(t, directMessage("to-u2", "U3", "U2", now.Add(time.Millisecond)))
	h.feed.announce(t, "ann-1", "Quarter close on Friday", true, now)
	assert.Eventually(t, func() bool { return len(uma.ids(StreamAnnouncements)) == 1 }, waitFor, tick)

	ugo, _ := subscribe(t, h, u2.ID, false)

	assert.Eventually(t, func() bool {
		return len(ugo.ids(StreamDirected)) == 1 && len(ugo.ids(StreamAnnouncements)) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"to-u2"}, ugo.ids(StreamDirected))
	assert.Equal(t, []string{"ann-1"}, ugo.ids(StreamAnnouncements))
	assert.Equal(t, []string{"to-u1"}, uma.ids(StreamDirected))
	assert.Equal(t, 2, h.feed.openCount())
}

func TestSubscribe_ListenersCloseWithLastSubscription(t *testing.T) {
	h := newHarness(t, true)
	_, first := subscribe(t, h, u1.ID, false)
	ugo, second := subscribe(t, h, u2.ID, false)

	first.Unsubscribe()
	<-first.Done()
	assert.Zero(t, h.feed.disposeCount())

	h.feed.appendRemote(t, directMessage("still-live", "U3", "U2", time.Now().UTC()))
	assert.Eventually(t, func() bool { return ugo.count() == 1 }, waitFor, tick)

	second.Unsubscribe()
	<-second.Done()
	assert.Equal(t, 2, h.feed.disposeCount())

	again, _ := subscribe(t, h, u2.ID, false)
	h.feed.appendRemote(t, directMessage("reopened", "U3", "U2", time.Now().UTC()))
	assert.Eventually(t, func() bool { return again.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"reopened"}, again.ids(StreamDirected))
	assert.Equal(t, 4, h.feed.openCount())
}

func TestSubscribe_CacheLookupFailureDropsMessage(t *testing.T) {
	h := newHarness(t, true)
	d, _ := subscribe(t, h, u1.ID, false)
	h.store.set(func(s *flakyStore) { s.failGet = true })

	h.feed.appendRemote(t, directMessage("lost", "U2", "U1", time.Now().UTC()))
	assert.Eventually(t, func() bool { return h.store.getCount() == 1 }, waitFor, tick)
	h.store.set(func(s *flakyStore) { s.failGet = false })
	h.feed.appendRemote(t, directMessage("kept", "U2", "U1", time.Now().UTC()))

	assert.Eventually(t, func() bool { return d.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"kept"}, d.ids(StreamDirected))

	// A fresh snapshot picks the dropped message up again.
	again, _ := subscribe(t, h, u1.ID, false)
	assert.Eventually(t, func() bool { return again.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"lost"}, again.ids(StreamDirected))
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue[mergeEvent]()
	q.push(mergeEvent{stream: StreamDirected, rec: feed.Record{feed.FieldMessageID: "a"}})
	q.push(mergeEvent{stream: StreamAnnouncements, rec: feed.Record{feed.FieldMessageID: "b"}})

	ev, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", ev.rec.ID())

	ev, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, StreamAnnouncements, ev.stream)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.pop()
		assert.False(t, ok)
	}()
	q.close()
	<-done

	q.push(mergeEvent{})
	_, ok = q.pop()
	assert.False(t, ok, "closed queue stays closed")
}
