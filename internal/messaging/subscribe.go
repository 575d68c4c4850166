package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/nfrund/bizdash/internal/metrics"
)

// Stream identifies which remote stream a live message came from.
type Stream string

const (
	StreamDirected      Stream = "directed"
	StreamAnnouncements Stream = "announcements"
)

// Delivery is one message handed to a subscriber.
type Delivery struct {
	Stream  Stream
	Message *domain.Message
}

// Handler receives new messages. It is never called concurrently for one
// subscription.
type Handler func(ctx context.Context, d Delivery)

// Subscription is one actor's view of the live merge of the directed and
// announcement streams.
type Subscription struct {
	s        *Synchronizer
	merge    *liveMerge
	actorID  string
	elevated bool
	handler  Handler
	ctx      context.Context

	queue *eventQueue[Delivery]
	left  bool // guarded by Synchronizer.liveMu
	once  sync.Once
	done  chan struct{}
}

// Unsubscribe stops the delivery loop. The remote listeners are closed
// with the last open subscription. It may be called any number of times.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.s.leave(sub)
		sub.queue.close()
		metrics.ActiveSubscriptions.Dec()
	})
}

// Done is closed once the delivery loop has exited after Unsubscribe.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

func (sub *Subscription) wants(msg *domain.Message) bool {
	return msg.RelevantTo(sub.actorID, sub.elevated)
}

func (sub *Subscription) deliver(stream Stream, msg *domain.Message) {
	sub.queue.push(Delivery{Stream: stream, Message: msg.Clone()})
}

func (sub *Subscription) drain() {
	defer close(sub.done)

	for {
		d, ok := sub.queue.pop()
		if !ok {
			return
		}
		metrics.MessagesDelivered.WithLabelValues(string(d.Stream)).Inc()
		sub.s.invoke(sub.ctx, sub.handler, d)
	}
}

// liveMerge is the single merge of both remote streams shared by every
// subscription of a Synchronizer. The local cache is shared too, so the
// dedup against it happens once here and the result is fanned out to the
// subscriptions it is relevant to.
type liveMerge struct {
	ctx       context.Context
	cancel    context.CancelFunc
	events    *eventQueue[mergeEvent]
	disposers []feed.Disposer

	// guarded by Synchronizer.liveMu
	subs    map[*Subscription]struct{}
	members int
}

type mergeEvent struct {
	stream Stream
	rec    feed.Record

	// local is a message committed by Send on this process.
	local *domain.Message

	// join registers a subscription. catchUp replays the recent history
	// for it when the listeners were already open.
	join    *Subscription
	catchUp bool
}

func (m *liveMerge) close() {
	for _, dispose := range m.disposers {
		dispose()
	}
	m.cancel()
	m.events.close()
}

// Subscribe starts delivering new messages relevant to the actor. Relevant
// directed messages not already cached are stored and delivered;
// announcements are delivered without being cached. Messages sent through
// this Synchronizer reach every other relevant subscription without a
// round trip through the remote feed. Ordering holds within each stream but
// not across the two.
func (s *Synchronizer) Subscribe(ctx context.Context, actorID string, elevated bool, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe: nil handler")
	}

	sub := &Subscription{
		s:        s,
		actorID:  actorID,
		elevated: elevated,
		handler:  handler,
		ctx:      context.WithoutCancel(ctx),
		queue:    newEventQueue[Delivery](),
		done:     make(chan struct{}),
	}

	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if s.live == nil {
		m, err := s.openLiveMerge(ctx, sub)
		if err != nil {
			return nil, err
		}
		s.live = m
	} else {
		s.live.events.push(mergeEvent{join: sub, catchUp: true})
	}
	s.live.members++
	sub.merge = s.live

	metrics.ActiveSubscriptions.Inc()
	go sub.drain()

	return sub, nil
}

// openLiveMerge opens both listeners. first is registered ahead of the
// listeners' snapshots so it sees them.
func (s *Synchronizer) openLiveMerge(ctx context.Context, first *Subscription) (*liveMerge, error) {
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &liveMerge{
		ctx:    mctx,
		cancel: cancel,
		events: newEventQueue[mergeEvent](),
		subs:   make(map[*Subscription]struct{}),
	}
	m.events.push(mergeEvent{join: first})

	enqueue := func(stream Stream) feed.Handler {
		return func(_ context.Context, rec feed.Record) {
			m.events.push(mergeEvent{stream: stream, rec: rec})
		}
	}

	directed, err := s.feed.SubscribeAppended(mctx, s.messagesCollection, s.directedLimit, feed.OldestFirst, enqueue(StreamDirected))
	if err != nil {
		m.close()
		return nil, domain.NewSyncError(domain.ErrRemoteRead, "subscribe", "", err)
	}
	m.disposers = append(m.disposers, directed)

	announcements, err := s.feed.SubscribeAppended(mctx, s.announcementsCollection, s.announcementLimit, feed.NewestFirst, enqueue(StreamAnnouncements))
	if err != nil {
		m.close()
		return nil, domain.NewSyncError(domain.ErrRemoteRead, "subscribe", "", err)
	}
	m.disposers = append(m.disposers, announcements)

	go s.runMerge(m)
	return m, nil
}

func (s *Synchronizer) leave(sub *Subscription) {
	s.liveMu.Lock()
	m := sub.merge
	sub.left = true
	delete(m.subs, sub)
	m.members--
	last := m.members == 0
	if last && s.live == m {
		s.live = nil
	}
	s.liveMu.Unlock()

	if last {
		m.close()
	}
}

// publishLocal hands a freshly sent message to the live merge, if any.
func (s *Synchronizer) publishLocal(msg *domain.Message) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.live != nil {
		s.live.events.push(mergeEvent{local: msg.Clone()})
	}
}

func (s *Synchronizer) subscribers(m *liveMerge) []*Subscription {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Synchronizer) runMerge(m *liveMerge) {
	for {
		ev, ok := m.events.pop()
		if !ok {
			return
		}

		switch {
		case ev.join != nil:
			s.join(m, ev.join, ev.catchUp)

		case ev.local != nil:
			// The sender already has it; its remote echo is deduped below.
			for _, sub := range s.subscribers(m) {
				if sub.actorID != ev.local.SenderID && sub.wants(ev.local) {
					sub.deliver(StreamDirected, ev.local)
				}
			}

		case ev.stream == StreamAnnouncements:
			msg := messageFromAnnouncement(ev.rec)
			for _, sub := range s.subscribers(m) {
				sub.deliver(StreamAnnouncements, msg)
			}

		default:
			subs := s.subscribers(m)
			msg := s.mergeDirected(m.ctx, ev.rec, func(msg *domain.Message) bool {
				for _, sub := range subs {
					if sub.wants(msg) {
						return true
					}
				}
				return false
			})
			if msg == nil {
				continue
			}
			for _, sub := range subs {
				if sub.wants(msg) {
					sub.deliver(StreamDirected, msg)
				}
			}
		}
	}
}

// join registers sub with the merge. A subscription joining open listeners
// gets the snapshot they would have given it: recent directed messages it
// has not cached, oldest first, and recent announcements, newest first.
func (s *Synchronizer) join(m *liveMerge, sub *Subscription, catchUp bool) {
	if catchUp {
		directed, err := s.feed.QueryRecent(m.ctx, s.messagesCollection, feed.OrderField, s.directedLimit)
		if err != nil {
			s.logger.WarnContext(m.ctx, "Directed history unavailable for new subscription",
				"actor_id", sub.actorID, "collection", s.messagesCollection,
				"error", domain.NewSyncError(domain.ErrRemoteRead, "subscribe", "", err))
		}
		for i := len(directed) - 1; i >= 0; i-- {
			if msg := s.mergeDirected(m.ctx, directed[i], sub.wants); msg != nil {
				sub.deliver(StreamDirected, msg)
			}
		}

		announcements, err := s.feed.QueryRecent(m.ctx, s.announcementsCollection, feed.OrderField, s.announcementLimit)
		if err != nil {
			s.logger.WarnContext(m.ctx, "Announcement history unavailable for new subscription",
				"actor_id", sub.actorID, "collection", s.announcementsCollection,
				"error", domain.NewSyncError(domain.ErrRemoteRead, "subscribe", "", err))
		}
		for _, rec := range announcements {
			sub.deliver(StreamAnnouncements, messageFromAnnouncement(rec))
		}
	}

	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if !sub.left {
		m.subs[sub] = struct{}{}
	}
}

// mergeDirected applies the relevance filter and the cache dedup to one
// directed-stream record. It returns the message to deliver, or nil.
func (s *Synchronizer) mergeDirected(ctx context.Context, rec feed.Record, relevant func(*domain.Message) bool) *domain.Message {
	msg := messageFromRecord(rec)
	if msg.ID == "" || !relevant(msg) {
		return nil
	}

	unlock := s.locks.Lock(msg.ID)
	defer unlock()

	// The listener has already marked the id as seen, so a message dropped
	// or left uncached here only comes back with a later snapshot: a new
	// subscription opening the listeners or joining them.
	_, found, err := s.store.Get(ctx, s.messagesCollection, msg.ID)
	if err != nil {
		metrics.LocalStorageFailures.WithLabelValues("get").Inc()
		s.logger.WarnContext(ctx, "Cache lookup failed, dropping live message",
			"message_id", msg.ID, "collection", s.messagesCollection,
			"error", domain.NewSyncError(domain.ErrLocalStorage, "subscribe", msg.ID, err))
		return nil
	}
	if found {
		metrics.DuplicatesSkipped.Inc()
		s.logger.DebugContext(ctx, "Skipping message already in cache", "message_id", msg.ID)
		return nil
	}

	data, err := encodeLocal(msg)
	if err == nil {
		err = s.store.Put(ctx, s.messagesCollection, msg.ID, data)
	}
	if err != nil {
		// Still new to this process, so it is delivered.
		metrics.LocalStorageFailures.WithLabelValues("put").Inc()
		s.logger.WarnContext(ctx, "Failed to cache live message",
			"message_id", msg.ID, "collection", s.messagesCollection,
			"error", domain.NewSyncError(domain.ErrLocalStorage, "subscribe", msg.ID, err))
	}
	return msg
}

func (s *Synchronizer) invoke(ctx context.Context, handler Handler, d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Panic in subscription handler", "message_id", d.Message.ID, "panic", r)
		}
	}()
	handler(ctx, d)
}

// eventQueue is an unbounded FIFO between goroutines. push never blocks,
// so a slow handler can't stall the remote feed or other subscribers.
type eventQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func newEventQueue[T any]() *eventQueue[T] {
	return &eventQueue[T]{notify: make(chan struct{}, 1)}
}

func (q *eventQueue[T]) push(ev T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available or the queue is closed. Pending
// events are discarded on close.
func (q *eventQueue[T]) pop() (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *eventQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
