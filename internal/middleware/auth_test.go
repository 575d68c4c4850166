package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(echomw.RequestID(), Logger(base))
	e.GET("/whoami", func(c echo.Context) error {
		actor, ok := ActorFrom(c)
		require.True(t, ok)
		FromContext(c.Request().Context()).Info("handled")
		return c.JSON(http.StatusOK, actor)
	}, Actor())

	t.Run("missing identity is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("headers populate the actor", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderActorID, "A1")
		req.Header.Set(HeaderActorName, "Ada")
		req.Header.Set(HeaderActorElevated, "true")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":"A1","name":"Ada","elevated":true}`, rec.Body.String())

		assert.Contains(t, buf.String(), `"actor_id":"A1"`)
		assert.Contains(t, buf.String(), `"request_id":"`+rec.Header().Get(echo.HeaderXRequestID)+`"`)
	})

	t.Run("query parameter is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami?actor=U1", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":"U1","name":"","elevated":false}`, rec.Body.String())
	})
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, slog.Default(), FromContext(req.Context()))
}
