package domain

import (
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// Reserved identity tokens. A recipient is either an actor id or one of
// RecipientAdmin / RecipientBroadcast; SenderSystem authors announcements.
const (
	SenderSystem       = "SYSTEM"
	RecipientAdmin     = "ADMIN"
	RecipientBroadcast = "BROADCAST"
)

// MessageType is descriptive only. It never affects routing.
type MessageType string

const (
	TypeChat          MessageType = "CHAT"
	TypeAccessRequest MessageType = "ACCESS_REQUEST"
	TypeBroadcast     MessageType = "BROADCAST"
	TypeBugReport     MessageType = "BUG_REPORT"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeChat, TypeAccessRequest, TypeBroadcast, TypeBugReport:
		return true
	}
	return false
}

// Message is the unit of internal communication.
//
// Read is meaningful only for direct messages; ReadBy only when RecipientID
// is RecipientBroadcast. ID is assigned by the sender and never changes.
type Message struct {
	ID            string      `json:"id" validate:"required"`
	SenderID      string      `json:"senderId" validate:"required"`
	SenderName    string      `json:"senderName"`
	RecipientID   string      `json:"recipientId" validate:"required"`
	Content       string      `json:"content" validate:"required"`
	Image         string      `json:"image,omitempty"`
	Type          MessageType `json:"type" validate:"required,oneof=CHAT ACCESS_REQUEST BROADCAST BUG_REPORT"`
	Timestamp     time.Time   `json:"timestamp"`
	Read          bool        `json:"read"`
	ReadBy        []string    `json:"readBy,omitempty"`
	RelatedModule string      `json:"relatedModule,omitempty"`
}

// Validate runs the struct-tag checks on the message.
func (m *Message) Validate() error {
	return validatorInstance.Struct(m)
}

// IsBroadcast reports whether the message is addressed to every actor.
func (m *Message) IsBroadcast() bool {
	return m.RecipientID == RecipientBroadcast
}

// VisibleTo is the visibility filter applied to cached messages on load.
// Elevated actors see admin-routed traffic instead of broadcasts.
func (m *Message) VisibleTo(actorID string, elevated bool) bool {
	if m.SenderID == actorID || m.RecipientID == actorID {
		return true
	}
	if elevated {
		return m.RecipientID == RecipientAdmin
	}
	return m.RecipientID == RecipientBroadcast
}

// RelevantTo is the filter applied to live directed-stream entries.
func (m *Message) RelevantTo(actorID string, elevated bool) bool {
	return elevated ||
		m.RecipientID == actorID ||
		m.RecipientID == RecipientBroadcast ||
		m.SenderID == actorID
}

// IsReadBy reports whether actorID has acknowledged the message.
func (m *Message) IsReadBy(actorID string) bool {
	if m.IsBroadcast() {
		return slices.Contains(m.ReadBy, actorID)
	}
	return m.Read
}

// MarkReadBy records actorID's acknowledgement and reports whether the
// message changed. Messages addressed to somebody else are left untouched.
func (m *Message) MarkReadBy(actorID string) bool {
	switch {
	case m.IsBroadcast():
		if slices.Contains(m.ReadBy, actorID) {
			return false
		}
		m.ReadBy = append(m.ReadBy, actorID)
		return true
	case m.RecipientID == actorID:
		if m.Read {
			return false
		}
		m.Read = true
		return true
	default:
		return false
	}
}

// Clone returns a deep copy so callers can't alias ReadBy.
func (m *Message) Clone() *Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	return &c
}

// Actor is the current user as supplied by the session layer.
type Actor struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	Elevated bool   `json:"elevated"`
}
