package wirechat

import (
	"encoding/json"
	"time"
)

// Event names published on the EventBus.
const (
	EventConnection       = "connection"
	EventConnectionFailed = "connection_failed"
	EventStateChanged     = "state_changed"
	EventError            = "error"

	EventMessageReceived       = "message_received"
	EventMessageEdited         = "message_edited"
	EventMessageDeleted        = "message_deleted"
	EventTyping                = "typing"
	EventOnlineStatus          = "online_status"
	EventUserOnline            = "user_online"
	EventUserOffline           = "user_offline"
	EventNotification          = "notification"
	EventConnectionRequestSent = "connection_request_sent"
	EventConversationHistory   = "conversation_history"

	// Derived events re-published by the standing subscribers.
	EventPresenceChanged = "presence_changed"
	EventTypingChanged   = "typing_changed"
)

// InboundEvents lists the server event names a transport must forward.
var InboundEvents = []string{
	EventMessageReceived,
	EventMessageEdited,
	EventMessageDeleted,
	EventTyping,
	EventOnlineStatus,
	EventUserOnline,
	EventUserOffline,
	EventNotification,
	EventConnectionRequestSent,
	EventConversationHistory,
	frameError,
}

// ConnectionEvent is published under EventConnection.
type ConnectionEvent struct {
	Connected    bool
	Reconnecting bool
	Reconnected  bool
	Attempt      int
	UserID       string
	Reason       string
}

// ConnectionFailedEvent is published once reconnection gives up.
type ConnectionFailedEvent struct {
	Attempts int
	Err      error
}

// TypingEvent is an inbound typing frame from a remote peer.
type TypingEvent struct {
	UserID         string `json:"userId"`
	SenderID       string `json:"senderId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// peer returns whoever is typing; servers send either userId or senderId.
func (e TypingEvent) peer() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.SenderID
}

// TypingChange is the simplified typing state for UI consumption.
type TypingChange struct {
	PeerID         string
	ConversationID string
	IsTyping       bool
	Expired        bool // cleared by the defensive timeout, not by the peer
}

// OnlineStatusEvent reports a user's presence.
type OnlineStatusEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// PresenceChange is published when the tracked online set changes.
type PresenceChange struct {
	UserID   string
	IsOnline bool
}

// Notification is a server-side notification.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title,omitempty"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ConnectionRequestSent acknowledges a connection request.
type ConnectionRequestSent struct {
	RequestID  string `json:"requestId,omitempty"`
	ReceiverID string `json:"receiverId"`
	Status     string `json:"status,omitempty"`
}

// HistoryEvent carries the backlog of a joined conversation.
type HistoryEvent struct {
	ConversationID string            `json:"conversationId"`
	Messages       []MessageEnvelope `json:"messages"`
	HasMore        bool              `json:"hasMore,omitempty"`
}
