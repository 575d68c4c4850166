// Package app wires the process's services into a samber/do container.
// The HTTP server and the operator CLI share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/bizdash/internal/config"
	"github.com/nfrund/bizdash/internal/database"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/nfrund/bizdash/internal/pubsub"
	"github.com/nfrund/bizdash/internal/storage"
	"github.com/samber/do/v2"
)

const connectTimeout = 10 * time.Second

// Options adjust the wiring for a single run.
type Options struct {
	// Ephemeral keeps the cache in memory regardless of CACHE_BACKEND.
	Ephemeral bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Cache owns the local durable store for the lifetime of the container.
type Cache struct {
	storage.Store
}

// Shutdown closes the store.
func (c *Cache) Shutdown() error {
	return c.Close()
}

// Remote is the feed the synchronizer replicates through.
type Remote struct {
	Feed feed.Feed
	// Replicating is true when Feed is a shared remote database rather than
	// the in-process fallback.
	Replicating bool

	closers []func(context.Context) error
}

// Shutdown releases the feed's resources in reverse order of acquisition.
func (r *Remote) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New returns a container providing *config.Config, *slog.Logger, *Cache,
// *Remote and *messaging.Synchronizer. Services are built on first use.
func New(cfg *config.Config, opts Options) *do.RootScope {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue[config.Provider](i, cfg)
	do.ProvideValue(i, logger)
	do.Provide(i, newCache(opts.Ephemeral))
	do.Provide(i, newRemote)
	do.Provide(i, newSynchronizer)
	return i
}

func newCache(ephemeral bool) do.Provider[*Cache] {
	return func(i do.Injector) (*Cache, error) {
		cfg := do.MustInvoke[*config.Config](i)

		backend := cfg.CacheBackend
		if ephemeral {
			backend = storage.BackendMemory
		}
		store, err := storage.Open(backend, cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open %s cache: %w", backend, err)
		}
		return &Cache{Store: store}, nil
	}
}

func newRemote(i do.Injector) (*Remote, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	if cfg.RemoteEnabled() {
		conn := database.NewConnection(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := conn.Connect(ctx); err != nil {
			// The health monitor keeps retrying; until then remote calls fail
			// and the synchronizer degrades to local-only.
			logger.Warn("remote feed unavailable at startup", "error", err)
		}
		conn.StartMonitoring()

		live := database.NewSurrealLiveQueryService(conn)
		return &Remote{
			Feed:        feed.NewSurrealFeed(conn, live),
			Replicating: true,
			closers:     []func(context.Context) error{conn.Close},
		}, nil
	}

	tracer, shutdownTracing, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.TracingServiceName,
		ZipkinURL:   cfg.ZipkinURL,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	bus := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
	logger.Info("remote feed disabled, using in-process feed")
	return &Remote{
		Feed: feed.NewMemoryFeed(bus),
		closers: []func(context.Context) error{
			shutdownTracing,
			func(context.Context) error { return bus.Close() },
		},
	}, nil
}

func newSynchronizer(i do.Injector) (*messaging.Synchronizer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	cache, err := do.Invoke[*Cache](i)
	if err != nil {
		return nil, err
	}
	remote, err := do.Invoke[*Remote](i)
	if err != nil {
		return nil, err
	}

	replicating := remote.Replicating
	return messaging.NewSynchronizer(cache.Store, remote.Feed,
		messaging.WithLogger(logger.With("service", "messaging")),
		messaging.WithCloudIdentity(func() bool { return replicating }),
		messaging.WithCollections(cfg.MessagesCollection, cfg.AnnouncementsCollection),
	), nil
}
