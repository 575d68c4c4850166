package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/feed"
)

// Remote record fields.
const (
	fieldSenderID      = "sender_id"
	fieldSenderName    = "sender_name"
	fieldRecipientID   = "recipient_id"
	fieldContent       = "content"
	fieldImage         = "image"
	fieldType          = "type"
	fieldTimestamp     = feed.OrderField
	fieldRead          = "read"
	fieldReadBy        = "read_by"
	fieldRelatedModule = "related_module"
	fieldIsBroadcast   = "is_broadcast"
)

const defaultAnnouncementSender = "System"

func encodeLocal(m *domain.Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeLocal(data []byte) (*domain.Message, error) {
	var m domain.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode cached message: %w", err)
	}
	return &m, nil
}

// remotePayload builds the replicated form of m. Optional fields are left
// out when empty so a merge never clears them.
func remotePayload(m *domain.Message) map[string]any {
	p := map[string]any{
		feed.FieldMessageID: m.ID,
		fieldSenderID:       m.SenderID,
		fieldSenderName:     m.SenderName,
		fieldRecipientID:    m.RecipientID,
		fieldContent:        m.Content,
		fieldType:           string(m.Type),
		fieldTimestamp:      m.Timestamp.UnixMilli(),
		fieldRead:           m.Read,
	}
	if len(m.ReadBy) > 0 {
		p[fieldReadBy] = m.ReadBy
	}
	if m.Image != "" {
		p[fieldImage] = m.Image
	}
	if m.RelatedModule != "" {
		p[fieldRelatedModule] = m.RelatedModule
	}
	return p
}

// receiptPayload carries only the read state actorID changed on m. A
// broadcast receipt adds the reader to the remote read_by set.
func receiptPayload(m *domain.Message, actorID string) map[string]any {
	if m.IsBroadcast() {
		return map[string]any{fieldReadBy: feed.Union{actorID}}
	}
	return map[string]any{fieldRead: m.Read}
}

// messageFromRecord decodes a directed-stream record.
func messageFromRecord(rec feed.Record) *domain.Message {
	return &domain.Message{
		ID:            rec.ID(),
		SenderID:      rec.String(fieldSenderID),
		SenderName:    rec.String(fieldSenderName),
		RecipientID:   rec.String(fieldRecipientID),
		Content:       rec.String(fieldContent),
		Image:         rec.String(fieldImage),
		Type:          domain.MessageType(rec.String(fieldType)),
		Timestamp:     rec.Time(fieldTimestamp),
		Read:          rec.Bool(fieldRead),
		ReadBy:        rec.Strings(fieldReadBy),
		RelatedModule: rec.String(fieldRelatedModule),
	}
}

// messageFromAnnouncement maps an announcement into the message shape.
func messageFromAnnouncement(rec feed.Record) *domain.Message {
	name := rec.String(fieldSenderName)
	if name == "" {
		name = defaultAnnouncementSender
	}
	msgType := domain.TypeChat
	if rec.Bool(fieldIsBroadcast) {
		msgType = domain.TypeBroadcast
	}
	return &domain.Message{
		ID:          rec.ID(),
		SenderID:    domain.SenderSystem,
		SenderName:  name,
		RecipientID: domain.RecipientBroadcast,
		Content:     rec.String(fieldContent),
		Image:       rec.String(fieldImage),
		Type:        msgType,
		Timestamp:   rec.Time(fieldTimestamp),
	}
}
