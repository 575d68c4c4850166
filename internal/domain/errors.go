package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the messaging core. Every SyncError matches exactly
// one of the kind sentinels through errors.Is.
var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrInvalidMessage = errors.New("invalid message")

	// ErrLocalStorage is fatal: the local cache rejected a read or write.
	ErrLocalStorage = errors.New("local storage unavailable")
	// ErrRemoteWrite is logged and swallowed after a successful local commit.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrRemoteRead degrades load to local-only results.
	ErrRemoteRead = errors.New("remote read failed")
	// ErrReadReceiptPropagation leaves local read state authoritative.
	ErrReadReceiptPropagation = errors.New("read receipt propagation failed")
)

// SyncError carries the failing operation and message alongside its kind.
type SyncError struct {
	Kind      error
	Op        string
	MessageID string
	Err       error
}

// NewSyncError wraps err as a failure of the given kind during op.
func NewSyncError(kind error, op, messageID string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, MessageID: messageID, Err: err}
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.MessageID != "" {
		msg = fmt.Sprintf("%s (message %s)", msg, e.MessageID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches the error's kind sentinel.
func (e *SyncError) Is(target error) bool {
	return target != nil && target == e.Kind
}
