package messaging

import (
	"context"
	"sort"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/nfrund/bizdash/internal/metrics"
)

// Load returns the messages visible to the actor, merged with the most
// recent announcements and ordered by timestamp. A failed announcement
// fetch degrades to cached messages only.
func (s *Synchronizer) Load(ctx context.Context, actorID string, elevated bool) ([]*domain.Message, error) {
	cached, err := s.visibleCached(ctx, actorID, elevated)
	if err != nil {
		return nil, err
	}

	out := cached
	out = append(out, s.recentAnnouncements(ctx)...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UnreadCount counts the visible messages addressed to the actor that the
// actor has not acknowledged. Own messages and admin-routed traffic never
// count; announcements are not tracked and never count either.
func (s *Synchronizer) UnreadCount(ctx context.Context, actorID string, elevated bool) (int, error) {
	cached, err := s.visibleCached(ctx, actorID, elevated)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range cached {
		if m.SenderID == actorID {
			continue
		}
		if (m.IsBroadcast() || m.RecipientID == actorID) && !m.IsReadBy(actorID) {
			n++
		}
	}
	return n, nil
}

func (s *Synchronizer) visibleCached(ctx context.Context, actorID string, elevated bool) ([]*domain.Message, error) {
	records, err := s.store.GetAll(ctx, s.messagesCollection)
	if err != nil {
		metrics.LocalStorageFailures.WithLabelValues("get_all").Inc()
		return nil, domain.NewSyncError(domain.ErrLocalStorage, "load", "", err)
	}

	out := make([]*domain.Message, 0, len(records))
	for _, data := range records {
		m, err := decodeLocal(data)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable cached message", "collection", s.messagesCollection, "error", err)
			continue
		}
		if m.VisibleTo(actorID, elevated) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Synchronizer) recentAnnouncements(ctx context.Context) []*domain.Message {
	records, err := s.feed.QueryRecent(ctx, s.announcementsCollection, feed.OrderField, s.historyLimit)
	if err != nil {
		metrics.RemoteReadFailures.Inc()
		s.logger.WarnContext(ctx, "Announcement fetch failed, returning cached messages only",
			"collection", s.announcementsCollection,
			"error", domain.NewSyncError(domain.ErrRemoteRead, "load", "", err))
		return nil
	}

	out := make([]*domain.Message, 0, len(records))
	for _, rec := range records {
		out = append(out, messageFromAnnouncement(rec))
	}
	return out
}
