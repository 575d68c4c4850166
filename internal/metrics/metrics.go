package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write path
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_messages_sent_total",
			Help: "Messages committed to the local cache by Send",
		},
		[]string{"replication"}, // "committed", "committed_local_only", "local_only"
	)

	RemoteWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_remote_write_failures_total",
			Help: "Remote replications that failed after a local commit",
		},
	)

	LocalStorageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_local_storage_failures_total",
			Help: "Local cache reads or writes that failed",
		},
		[]string{"op"},
	)

	// Read path
	RemoteReadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_remote_read_failures_total",
			Help: "Announcement history fetches that failed during Load",
		},
	)

	// Subscription path
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_messages_delivered_total",
			Help: "Messages handed to subscribers",
		},
		[]string{"stream"}, // "directed" or "announcements"
	)

	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_duplicates_skipped_total",
			Help: "Directed messages skipped because the local cache already held them",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bizdash_active_subscriptions",
			Help: "Open Subscribe handles",
		},
	)

	// Read receipts
	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_read_receipts_total",
			Help: "MarkRead calls that changed read state",
		},
	)

	ReceiptPropagationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_receipt_propagation_failures_total",
			Help: "Read receipts that could not be written to the remote store",
		},
	)
)
