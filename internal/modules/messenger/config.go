package messenger

import (
	"time"

	"github.com/nfrund/bizdash/internal/config"
)

// Config holds the configuration for the messenger module
type Config struct {
	// RateLimitPerMinute caps POST /api/messages per actor.
	RateLimitPerMinute int
	// WriteTimeout bounds a single websocket frame write.
	WriteTimeout time.Duration
	// OriginPatterns are the extra hosts allowed to open the stream.
	OriginPatterns []string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RateLimitPerMinute: 30,
		WriteTimeout:       10 * time.Second,
	}
}

// ConfigFrom reads the module settings from the application configuration.
func ConfigFrom(p config.Provider) Config {
	cfg := DefaultConfig()
	if n := p.GetMessagesRateLimit(); n > 0 {
		cfg.RateLimitPerMinute = n
	}
	cfg.OriginPatterns = p.GetWSOriginPatterns()
	return cfg
}
