package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/bizdash/internal/domain"
)

// Identity headers set by the session layer in front of this service.
const (
	HeaderActorID       = "X-Actor-ID"
	HeaderActorName     = "X-Actor-Name"
	HeaderActorElevated = "X-Actor-Elevated"
)

const ActorContextKey = "actor"

// Actor resolves the calling actor from the identity headers and rejects
// requests that carry none.
func Actor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := strings.TrimSpace(req.Header.Get(HeaderActorID))
			if id == "" {
				// Websocket clients cannot set headers from the browser.
				id = strings.TrimSpace(c.QueryParam("actor"))
			}
			if id == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing actor identity")
			}

			elevated, _ := strconv.ParseBool(req.Header.Get(HeaderActorElevated))
			actor := domain.Actor{
				ID:       id,
				Name:     req.Header.Get(HeaderActorName),
				Elevated: elevated,
			}
			c.Set(ActorContextKey, actor)

			logger := FromContext(req.Context()).With("actor_id", actor.ID)
			c.SetRequest(req.WithContext(WithLogger(req.Context(), logger)))

			return next(c)
		}
	}
}

// ActorFrom returns the actor stored by the Actor middleware.
func ActorFrom(c echo.Context) (domain.Actor, bool) {
	actor, ok := c.Get(ActorContextKey).(domain.Actor)
	return actor, ok
}
