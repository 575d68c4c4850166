package server

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the routes that don't belong to a module.
func (s *Server) RegisterRoutes() {
	s.E.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.gatherer,
	}))
}
