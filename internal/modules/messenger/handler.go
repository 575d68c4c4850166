package messenger

import (
	"context"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/messaging"
)

// Service is the slice of the synchronizer the HTTP surface uses.
type Service interface {
	SendDetailed(ctx context.Context, actor domain.Actor, req messaging.SendRequest) (*messaging.SendResult, error)
	Load(ctx context.Context, actorID string, elevated bool) ([]*domain.Message, error)
	UnreadCount(ctx context.Context, actorID string, elevated bool) (int, error)
	MarkRead(ctx context.Context, messageID, actorID string) error
	Subscribe(ctx context.Context, actorID string, elevated bool, handler messaging.Handler) (*messaging.Subscription, error)
}

var _ Service = (*messaging.Synchronizer)(nil)

// Handler serves the messaging endpoints.
type Handler struct {
	svc Service
	cfg Config
}

// NewHandler creates a new handler instance
func NewHandler(svc Service, cfg Config) *Handler {
	return &Handler{
		svc: svc,
		cfg: cfg,
	}
}
