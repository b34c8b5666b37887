package wirechat

import (
	"time"

	"github.com/google/uuid"
)

// MessageTypeText is the default message type.
const MessageTypeText = "text"

// MessageEnvelope is the payload of sendMessage, editMessage and
// deleteMessage frames, and of inbound message events.
type MessageEnvelope struct {
	MessageID       string     `json:"messageId"`
	ConversationID  string     `json:"conversationId,omitempty"`
	SenderID        string     `json:"senderId"`
	Content         string     `json:"content,omitempty"`
	Type            string     `json:"type,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	IsRead          bool       `json:"isRead"`
	FileName        string     `json:"fileName,omitempty"`
	ParentMessageID string     `json:"parentMessageId,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// IDGenerator produces message ids.
type IDGenerator func() string

// NewMessageID returns a UUIDv7 string: a millisecond timestamp prefix
// followed by random bits. Uniqueness is best-effort.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// MessageOption customises NewMessage.
type MessageOption func(*MessageEnvelope)

// WithMessageID uses id instead of a generated one. An empty id is ignored.
func WithMessageID(id string) MessageOption {
	return func(m *MessageEnvelope) {
		if id != "" {
			m.MessageID = id
		}
	}
}

// WithFileName attaches a file name.
func WithFileName(name string) MessageOption {
	return func(m *MessageEnvelope) { m.FileName = name }
}

// WithParentMessageID marks the message as a reply.
func WithParentMessageID(id string) MessageOption {
	return func(m *MessageEnvelope) { m.ParentMessageID = id }
}

// WithMessageType overrides the "text" type.
func WithMessageType(typ string) MessageOption {
	return func(m *MessageEnvelope) {
		if typ != "" {
			m.Type = typ
		}
	}
}

// EnvelopeBuilder builds outbound envelopes. It holds no state besides its
// clock and id source.
type EnvelopeBuilder struct {
	clock Clock
	newID IDGenerator
}

// NewEnvelopeBuilder returns a builder. Nil arguments fall back to the
// wall clock and NewMessageID.
func NewEnvelopeBuilder(clock Clock, ids IDGenerator) EnvelopeBuilder {
	if clock == nil {
		clock = RealScheduler{}
	}
	if ids == nil {
		ids = NewMessageID
	}
	return EnvelopeBuilder{clock: clock, newID: ids}
}

// NewMessage builds a sendMessage envelope.
func (b EnvelopeBuilder) NewMessage(senderID, conversationID, content string, opts ...MessageOption) MessageEnvelope {
	now := b.clock.Now().UTC()
	m := MessageEnvelope{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           MessageTypeText,
		CreatedAt:      &now,
		IsRead:         false,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.MessageID == "" {
		m.MessageID = b.id()
	}
	return m
}

// EditMessage builds an editMessage envelope.
func (b EnvelopeBuilder) EditMessage(senderID, messageID, content string) MessageEnvelope {
	now := b.clock.Now().UTC()
	return MessageEnvelope{
		MessageID: messageID,
		SenderID:  senderID,
		Content:   content,
		UpdatedAt: &now,
	}
}

// DeleteMessage builds a deleteMessage envelope.
func (b EnvelopeBuilder) DeleteMessage(senderID, messageID string) MessageEnvelope {
	now := b.clock.Now().UTC()
	return MessageEnvelope{
		MessageID: messageID,
		SenderID:  senderID,
		DeletedAt: &now,
	}
}

func (b EnvelopeBuilder) id() string {
	if id := b.newID(); id != "" {
		return id
	}
	return NewMessageID()
}
