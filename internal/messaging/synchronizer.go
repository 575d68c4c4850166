// Package messaging keeps the local message cache and the remote feeds in
// step. Writes commit locally first and replicate on a best-effort basis;
// reads merge the cache with recent announcements; live updates from the
// directed and announcement streams are deduplicated by message id.
package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/bizdash/internal/feed"
	"github.com/nfrund/bizdash/internal/storage"
)

const (
	// DefaultMessagesCollection holds directed and broadcast messages.
	DefaultMessagesCollection = "messages"
	// DefaultAnnouncementsCollection holds admin announcements.
	DefaultAnnouncementsCollection = "announcements"

	// DefaultHistoryLimit bounds the announcements fetched by Load.
	DefaultHistoryLimit = 20
	// DefaultDirectedLimit bounds the directed stream snapshot on Subscribe.
	DefaultDirectedLimit = 50
	// DefaultAnnouncementLimit bounds the announcement stream snapshot on Subscribe.
	DefaultAnnouncementLimit = 5
)

// Synchronizer is the only writer of the local message cache.
type Synchronizer struct {
	store  storage.Store
	feed   feed.Feed
	logger *slog.Logger

	now           func() time.Time
	newID         func() string
	cloudIdentity func() bool

	messagesCollection      string
	announcementsCollection string

	historyLimit      int
	directedLimit     int
	announcementLimit int

	locks *keyedMutex

	liveMu sync.Mutex
	live   *liveMerge
}

// Option is a function that configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithIDGenerator sets how new message ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Synchronizer) {
		s.newID = newID
	}
}

// WithCloudIdentity gates remote writes. Without a cloud identity Send and
// MarkRead stay local.
func WithCloudIdentity(present func() bool) Option {
	return func(s *Synchronizer) {
		s.cloudIdentity = present
	}
}

// WithCollections overrides the remote and local collection names.
func WithCollections(messages, announcements string) Option {
	return func(s *Synchronizer) {
		s.messagesCollection = messages
		s.announcementsCollection = announcements
	}
}

// WithLimits overrides the announcement history window of Load and the
// snapshot sizes of the two Subscribe streams. Non-positive values keep
// the defaults.
func WithLimits(history, directed, announcements int) Option {
	return func(s *Synchronizer) {
		if history > 0 {
			s.historyLimit = history
		}
		if directed > 0 {
			s.directedLimit = directed
		}
		if announcements > 0 {
			s.announcementLimit = announcements
		}
	}
}

// NewSynchronizer creates a synchronizer over a local store and a remote feed.
func NewSynchronizer(store storage.Store, f feed.Feed, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:                   store,
		feed:                    f,
		logger:                  slog.Default().With("service", "messaging"),
		now:                     time.Now,
		newID:                   uuid.NewString,
		cloudIdentity:           func() bool { return false },
		messagesCollection:      DefaultMessagesCollection,
		announcementsCollection: DefaultAnnouncementsCollection,
		historyLimit:            DefaultHistoryLimit,
		directedLimit:           DefaultDirectedLimit,
		announcementLimit:       DefaultAnnouncementLimit,
		locks:                   newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
