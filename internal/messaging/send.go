package messaging

import (
	"context"
	"time"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/metrics"
)

// Replication describes what happened to a sent message after the local commit.
type Replication string

const (
	// Committed means the message reached both the cache and the remote feed.
	Committed Replication = "committed"
	// CommittedLocalOnly means the remote write was attempted and failed.
	CommittedLocalOnly Replication = "committed_local_only"
	// LocalOnly means no cloud identity was present, so no remote write was tried.
	LocalOnly Replication = "local_only"
)

// SendRequest is the caller-supplied part of a new message. An empty
// RecipientID routes the message to ADMIN.
type SendRequest struct {
	Content       string             `json:"content"`
	Type          domain.MessageType `json:"type"`
	RecipientID   string             `json:"recipientId,omitempty"`
	Image         string             `json:"image,omitempty"`
	RelatedModule string             `json:"relatedModule,omitempty"`
}

// SendResult is the committed message plus its replication outcome.
type SendResult struct {
	Message     *domain.Message
	Replication Replication
	// RemoteErr is the swallowed replication failure, if any.
	RemoteErr error
}

// Send commits a new message authored by actor. Only a local cache failure
// or an invalid message is returned as an error.
func (s *Synchronizer) Send(ctx context.Context, actor domain.Actor, req SendRequest) (*domain.Message, error) {
	res, err := s.SendDetailed(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	return res.Message, nil
}

// SendDetailed is Send reporting whether the message was replicated.
func (s *Synchronizer) SendDetailed(ctx context.Context, actor domain.Actor, req SendRequest) (*SendResult, error) {
	recipient := req.RecipientID
	if recipient == "" {
		recipient = domain.RecipientAdmin
	}

	msg := &domain.Message{
		ID:            s.newID(),
		SenderID:      actor.ID,
		SenderName:    actor.Name,
		RecipientID:   recipient,
		Content:       req.Content,
		Image:         req.Image,
		Type:          req.Type,
		Timestamp:     s.now().UTC().Truncate(time.Millisecond),
		RelatedModule: req.RelatedModule,
	}
	if err := msg.Validate(); err != nil {
		return nil, domain.NewSyncError(domain.ErrInvalidMessage, "send", msg.ID, err)
	}

	data, err := encodeLocal(msg)
	if err != nil {
		return nil, domain.NewSyncError(domain.ErrLocalStorage, "send", msg.ID, err)
	}
	if err := s.store.Put(ctx, s.messagesCollection, msg.ID, data); err != nil {
		metrics.LocalStorageFailures.WithLabelValues("put").Inc()
		return nil, domain.NewSyncError(domain.ErrLocalStorage, "send", msg.ID, err)
	}

	s.publishLocal(msg)

	res := &SendResult{Message: msg.Clone(), Replication: LocalOnly}
	if s.cloudIdentity() {
		if err := s.feed.Write(ctx, s.messagesCollection, msg.ID, remotePayload(msg)); err != nil {
			res.Replication = CommittedLocalOnly
			res.RemoteErr = domain.NewSyncError(domain.ErrRemoteWrite, "send", msg.ID, err)
			metrics.RemoteWriteFailures.Inc()
			s.logger.WarnContext(ctx, "Remote replication failed, message kept locally",
				"message_id", msg.ID, "collection", s.messagesCollection, "error", err)
		} else {
			res.Replication = Committed
		}
	}

	metrics.MessagesSent.WithLabelValues(string(res.Replication)).Inc()
	s.logger.DebugContext(ctx, "Message sent",
		"message_id", msg.ID, "recipient_id", msg.RecipientID, "type", msg.Type, "replication", res.Replication)

	return res, nil
}
