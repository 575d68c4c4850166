package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/bizdash/internal/config"
	appmiddleware "github.com/nfrund/bizdash/internal/middleware"
	"github.com/nfrund/bizdash/internal/module"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	Cfg      config.Provider
	injector do.Injector
	modules  []module.Module
	logger   *slog.Logger

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sends HTTP metrics to reg and serves /metrics from it
// instead of the process-wide default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = reg
	}
}

// WithLogger sets the base logger for request-scoped loggers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds the echo instance, then registers and boots every module
// against the container.
func New(cfg config.Provider, injector do.Injector, modules []module.Module, opts ...Option) (*Server, error) {
	s := &Server{
		E:          echo.New(),
		Cfg:        cfg,
		injector:   injector,
		modules:    modules,
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.E.HideBanner = true
	setupErrorHandling(s.E)

	s.E.Use(middleware.RequestID())
	s.E.Use(appmiddleware.Logger(s.logger))
	s.E.Use(middleware.Recover())
	s.E.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:                 "bizdash",
		Registerer:                s.registerer,
		DoNotUseRequestPathFor404: true,
	}))

	s.RegisterRoutes()

	if err := s.bootModules(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) bootModules(ctx context.Context) error {
	for _, m := range s.modules {
		if err := m.Register(s.injector); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	for _, m := range s.modules {
		if err := m.Boot(ctx, s.E.Group(""), s.injector); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
		s.logger.Debug("module booted", "module", m.Name())
	}
	return nil
}
