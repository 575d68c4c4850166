package app

import (
	"github.com/nfrund/bizdash/internal/config"
	"github.com/nfrund/bizdash/internal/module"
	"github.com/nfrund/bizdash/internal/modules/messenger"
)

// NewModules creates and returns the list of all active modules for the application.
// This is the single source of truth for which features are enabled.
func NewModules(cfg config.Provider) []module.Module {
	return []module.Module{
		messenger.New(messenger.ConfigFrom(cfg)),
	}
}
