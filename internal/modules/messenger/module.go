package messenger

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/nfrund/bizdash/internal/middleware"
	"github.com/nfrund/bizdash/internal/module"
	"github.com/samber/do/v2"
)

// MessengerModule exposes the message synchronizer over HTTP.
type MessengerModule struct {
	module.BaseModule
	cfg Config
}

// New creates the module with the given settings.
func New(cfg Config) *MessengerModule {
	return &MessengerModule{cfg: cfg}
}

// Name returns the module name
func (m *MessengerModule) Name() string {
	return "messenger"
}

// Register binds the handler into the container.
func (m *MessengerModule) Register(i do.Injector) error {
	do.Provide(i, func(i do.Injector) (*Handler, error) {
		syncer, err := do.Invoke[*messaging.Synchronizer](i)
		if err != nil {
			return nil, err
		}
		return NewHandler(syncer, m.cfg), nil
	})
	return nil
}

// Boot mounts the REST and websocket routes.
func (m *MessengerModule) Boot(ctx context.Context, g *echo.Group, i do.Injector) error {
	handler, err := do.Invoke[*Handler](i)
	if err != nil {
		return fmt.Errorf("messenger handler: %w", err)
	}
	Routes(g, handler, m.cfg)
	return nil
}

// Routes mounts the messenger endpoints on g.
func Routes(g *echo.Group, h *Handler, cfg Config) {
	actor := middleware.Actor()

	api := g.Group("/api/messages", actor)
	api.POST("", h.CreateMessage, middleware.RateLimiter(cfg.RateLimitPerMinute))
	api.GET("", h.ListMessages)
	api.GET("/unread", h.UnreadCount)
	api.POST("/:id/read", h.MarkRead)

	g.GET("/ws/messages", h.Stream, actor)
}
