package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Provider exposes the settings other packages depend on. The database
// connection only ever sees this interface.
type Provider interface {
	GetAppEnv() string
	GetHTTPAddr() string
	GetDBURL() string
	GetDBUser() string
	GetDBPass() string
	GetDBNs() string
	GetDBDb() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
	GetMessagesRateLimit() int
	GetWSOriginPatterns() []string
	RemoteEnabled() bool
}

// Config holds all configuration for the application.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=development"`
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`

	LogFormat string `env:"LOG_FORMAT,default=text"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	CacheBackend string `env:"CACHE_BACKEND,default=pebble"`
	CachePath    string `env:"CACHE_PATH,default=./data/cache"`

	Remote       bool          `env:"REMOTE_ENABLED,default=true"`
	DBUrl        string        `env:"SURREAL_URL"`
	DBUser       string        `env:"SURREAL_USER"`
	DBPass       string        `env:"SURREAL_PASS"`
	DBNs         string        `env:"SURREAL_NS"`
	DBDb         string        `env:"SURREAL_DB"`
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT,default=5s"`
	ExecTimeout  time.Duration `env:"DB_EXECUTE_TIMEOUT,default=10s"`

	MessagesCollection      string `env:"MESSAGES_COLLECTION,default=messages"`
	AnnouncementsCollection string `env:"ANNOUNCEMENTS_COLLECTION,default=announcements"`

	MessagesRateLimit int      `env:"MESSAGES_RATE_LIMIT,default=30"`
	WSOriginPatterns  []string `env:"WS_ORIGIN_PATTERNS"`

	TracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED,default=false"`
	TracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME,default=bizdash"`
	ZipkinURL          string `env:"PUBSUB_TRACING_ZIPKIN_URL,default=http://localhost:9411/api/v2/spans"`
}

var _ Provider = (*Config)(nil)

// New loads configuration from an optional .env file and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromLookuper(envconfig.OsLookuper())
}

// FromLookuper builds a Config from an arbitrary variable source. Tests use
// envconfig.MapLookuper.
func FromLookuper(l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(context.Background(), &cfg, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the application can't start with.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case "pebble", "file", "memory":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.RemoteEnabled() && (c.DBNs == "" || c.DBDb == "") {
		return fmt.Errorf("SURREAL_NS and SURREAL_DB are required when SURREAL_URL is set")
	}
	return nil
}

// RemoteEnabled reports whether the SurrealDB feed should be used. Without
// it the process runs against the in-memory feed and never replicates.
func (c *Config) RemoteEnabled() bool {
	return c.Remote && c.DBUrl != ""
}

func (c *Config) GetAppEnv() string                  { return c.AppEnv }
func (c *Config) GetHTTPAddr() string                { return c.HTTPAddr }
func (c *Config) GetDBURL() string                   { return c.DBUrl }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.QueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.ExecTimeout }
func (c *Config) GetMessagesRateLimit() int          { return c.MessagesRateLimit }
func (c *Config) GetWSOriginPatterns() []string      { return c.WSOriginPatterns }
