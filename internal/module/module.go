package module

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
)

// Module defines the contract for a self-contained application feature.
type Module interface {
	// Name returns a unique identifier for the module.
	Name() string

	// Register is called during application startup to bind the module's
	// services into the container.
	Register(i do.Injector) error

	// Boot is called after all modules have registered their services.
	// This is the phase for setting up routes and starting background processes.
	Boot(ctx context.Context, router *echo.Group, i do.Injector) error

	// Shutdown is called during graceful application shutdown.
	Shutdown(ctx context.Context) error
}

// BaseModule provides default no-op implementations for Module methods.
// Modules can embed this to avoid implementing methods they don't need.
type BaseModule struct{}

func (m *BaseModule) Register(i do.Injector) error { return nil }
func (m *BaseModule) Boot(ctx context.Context, router *echo.Group, i do.Injector) error {
	return nil
}
func (m *BaseModule) Shutdown(ctx context.Context) error {
	return nil
}
