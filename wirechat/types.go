package wirechat

import (
	"encoding/json"
	"time"
)

const (
	ProtocolVersion = 1

	frameHello             = "hello"
	frameSendMessage       = "sendMessage"
	frameEditMessage       = "editMessage"
	frameDeleteMessage     = "deleteMessage"
	frameTyping            = "typing"
	frameConnectionRequest = "connection_request"
	frameJoinConversation  = "join_conversation"
	frameLeaveConversation = "leave_conversation"

	frameError = "error"
)

// Frame is the envelope used for both directions.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix milliseconds
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(typ string, payload any, at time.Time) (Frame, error) {
	f := Frame{Type: typ, Timestamp: at.UnixMilli()}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, WrapError(ErrorSerialization, "failed to marshal "+typ+" frame", err)
	}
	f.Data = data
	return f, nil
}

// HelloPayload initiates the session on websocket transports.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	UserID   string `json:"userId"`
	Token    string `json:"token,omitempty"`
}

// NewHelloFrame builds the handshake frame sent right after a websocket dial.
func NewHelloFrame(hs Handshake, at time.Time) (Frame, error) {
	return NewFrame(frameHello, HelloPayload{Protocol: ProtocolVersion, UserID: hs.UserID, Token: hs.Token}, at)
}

// TypingPayload is the outbound typing frame.
type TypingPayload struct {
	ReceiverID     string `json:"receiverId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      int64  `json:"timestamp"`
}

// ConnectionRequestPayload asks another user to connect.
type ConnectionRequestPayload struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// ConversationPayload joins or leaves a conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// ProtocolError describes a protocol error.
type ProtocolError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
