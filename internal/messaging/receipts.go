package messaging

import (
	"context"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/metrics"
)

// MarkRead records that actorID has read the message. Unknown ids, repeat
// receipts and messages addressed to someone else are no-ops. The new read
// state is pushed to the remote feed on a best-effort basis.
func (s *Synchronizer) MarkRead(ctx context.Context, messageID, actorID string) error {
	unlock := s.locks.Lock(messageID)
	defer unlock()

	data, found, err := s.store.Get(ctx, s.messagesCollection, messageID)
	if err != nil {
		metrics.LocalStorageFailures.WithLabelValues("get").Inc()
		return domain.NewSyncError(domain.ErrLocalStorage, "mark_read", messageID, err)
	}
	if !found {
		s.logger.DebugContext(ctx, "Read receipt for unknown message ignored", "message_id", messageID)
		return nil
	}

	msg, err := decodeLocal(data)
	if err != nil {
		return domain.NewSyncError(domain.ErrLocalStorage, "mark_read", messageID, err)
	}
	if !msg.MarkReadBy(actorID) {
		return nil
	}

	data, err = encodeLocal(msg)
	if err == nil {
		err = s.store.Put(ctx, s.messagesCollection, messageID, data)
	}
	if err != nil {
		metrics.LocalStorageFailures.WithLabelValues("put").Inc()
		return domain.NewSyncError(domain.ErrLocalStorage, "mark_read", messageID, err)
	}
	metrics.ReadReceipts.Inc()

	if !s.cloudIdentity() {
		return nil
	}
	if err := s.feed.Write(ctx, s.messagesCollection, messageID, receiptPayload(msg, actorID)); err != nil {
		metrics.ReceiptPropagationFailures.Inc()
		s.logger.WarnContext(ctx, "Read receipt not propagated, local state kept",
			"message_id", messageID, "collection", s.messagesCollection,
			"error", domain.NewSyncError(domain.ErrReadReceiptPropagation, "mark_read", messageID, err))
	}
	return nil
}
