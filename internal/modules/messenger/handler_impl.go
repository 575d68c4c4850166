package messenger

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/nfrund/bizdash/internal/middleware"
)

// HeaderReplication reports the replication outcome of a created message.
const HeaderReplication = "X-Replication"

// UnreadResponse is the body of GET /api/messages/unread.
type UnreadResponse struct {
	Count int `json:"count"`
}

// StreamFrame is one websocket frame of GET /ws/messages.
type StreamFrame struct {
	Stream  messaging.Stream `json:"stream"`
	Message *domain.Message  `json:"message"`
}

func actorFrom(c echo.Context) (domain.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return domain.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing actor identity")
	}
	return actor, nil
}

// toHTTPError maps synchronizer failures onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidMessage):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message").SetInternal(err)
	case errors.Is(err, domain.ErrLocalStorage):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message storage unavailable").SetInternal(err)
	default:
		return err
	}
}

// CreateMessage handles POST /api/messages.
func (h *Handler) CreateMessage(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	var req messaging.SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}

	res, err := h.svc.SendDetailed(c.Request().Context(), actor, req)
	if err != nil {
		return toHTTPError(err)
	}

	if res.RemoteErr != nil {
		middleware.FromContext(c.Request().Context()).Warn("message kept locally",
			"message_id", res.Message.ID, "error", res.RemoteErr)
	}
	c.Response().Header().Set(HeaderReplication, string(res.Replication))
	return c.JSON(http.StatusCreated, res.Message)
}

// ListMessages handles GET /api/messages.
func (h *Handler) ListMessages(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	messages, err := h.svc.Load(c.Request().Context(), actor.ID, actor.Elevated)
	if err != nil {
		return toHTTPError(err)
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

// UnreadCount handles GET /api/messages/unread.
func (h *Handler) UnreadCount(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	n, err := h.svc.UnreadCount(c.Request().Context(), actor.ID, actor.Elevated)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, UnreadResponse{Count: n})
}

// MarkRead handles POST /api/messages/:id/read.
func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id is required")
	}
	if err := h.svc.MarkRead(c.Request().Context(), id, actor.ID); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Stream upgrades GET /ws/messages and forwards every delivery of a live
// subscription as a JSON frame. Client frames are ignored; closing the
// socket ends the subscription.
func (h *Handler) Stream(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	logger := middleware.FromContext(c.Request().Context())

	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer ws.CloseNow()

	ctx := ws.CloseRead(c.Request().Context())

	sub, err := h.svc.Subscribe(ctx, actor.ID, actor.Elevated, func(_ context.Context, d messaging.Delivery) {
		writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancel()
		if err := wsjson.Write(writeCtx, ws, StreamFrame{Stream: d.Stream, Message: d.Message}); err != nil {
			logger.Warn("websocket write failed", "message_id", d.Message.ID, "error", err)
			ws.CloseNow()
		}
	})
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		ws.Close(websocket.StatusInternalError, "subscription unavailable")
		return nil
	}
	logger.Info("message stream opened")

	<-ctx.Done()
	sub.Unsubscribe()
	<-sub.Done()

	logger.Info("message stream closed")
	ws.Close(websocket.StatusNormalClosure, "")
	return nil
}
