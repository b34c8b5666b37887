package wirechat

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure reported by the server or raised by the client.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// server error frames
	ErrorUnsupportedVersion
	ErrorUnauthorized
	ErrorInvalidMessage
	ErrorBadRequest
	ErrorConversationNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// connection lifecycle
	ErrorHandshakeTimeout
	ErrorTransport
	ErrorTransportLost
	ErrorMaxReconnectAttempts
	ErrorDisconnected

	// local misuse
	ErrorNotConnected
	ErrorAlreadyConnected
	ErrorConnectInProgress
	ErrorInvalidConfig
	ErrorSerialization
)

type errorClass uint8

const (
	classLocal errorClass = iota
	classProtocol
	classConnection
)

type codeInfo struct {
	name  string
	class errorClass
}

var codeTable = map[ErrorCode]codeInfo{
	ErrorUnknown:              {"unknown", classLocal},
	ErrorUnsupportedVersion:   {"unsupported_version", classProtocol},
	ErrorUnauthorized:         {"unauthorized", classProtocol},
	ErrorInvalidMessage:       {"invalid_message", classProtocol},
	ErrorBadRequest:           {"bad_request", classProtocol},
	ErrorConversationNotFound: {"conversation_not_found", classProtocol},
	ErrorAccessDenied:         {"access_denied", classProtocol},
	ErrorRateLimited:          {"rate_limited", classProtocol},
	ErrorInternalServer:       {"internal_error", classProtocol},
	ErrorHandshakeTimeout:     {"handshake_timeout", classConnection},
	ErrorTransport:            {"transport_error", classConnection},
	ErrorTransportLost:        {"transport_lost", classConnection},
	ErrorMaxReconnectAttempts: {"max_reconnect_attempts", classConnection},
	ErrorDisconnected:         {"disconnected", classConnection},
	ErrorNotConnected:         {"not_connected", classLocal},
	ErrorAlreadyConnected:     {"already_connected", classLocal},
	ErrorConnectInProgress:    {"connect_in_progress", classLocal},
	ErrorInvalidConfig:        {"invalid_config", classLocal},
	ErrorSerialization:        {"serialization_error", classLocal},
}

// server codes by wire name; only protocol-class codes are accepted from the wire
var wireCodes = func() map[string]ErrorCode {
	m := make(map[string]ErrorCode)
	for code, info := range codeTable {
		if info.class == classProtocol {
			m[info.name] = code
		}
	}
	return m
}()

func (e ErrorCode) String() string {
	if info, ok := codeTable[e]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown_code_%d", int(e))
}

// ParseErrorCode maps a server error code to an ErrorCode. Unrecognised codes
// become ErrorUnknown.
func ParseErrorCode(code string) ErrorCode {
	if c, ok := wireCodes[code]; ok {
		return c
	}
	return ErrorUnknown
}

// Sentinels for errors.Is matching by code.
var (
	ErrHandshakeTimeout       = NewError(ErrorHandshakeTimeout, "handshake timed out")
	ErrTransport              = NewError(ErrorTransport, "transport error")
	ErrMaxReconnectAttempts   = NewError(ErrorMaxReconnectAttempts, "reconnect attempts exhausted")
	ErrAlreadyConnected       = NewError(ErrorAlreadyConnected, "already connected")
	ErrConnectInProgress      = NewError(ErrorConnectInProgress, "connect in progress")
	ErrDisconnectedDuringDial = NewError(ErrorDisconnected, "disconnected during handshake")
	ErrInvalidConfig          = NewError(ErrorInvalidConfig, "invalid config")
)

// WirechatError carries an ErrorCode plus an optional cause. Two
// WirechatErrors match under errors.Is when their codes are equal.
//
// Errors built from a server error frame keep the server's code string in
// ServerCode, including codes the client does not know.
type WirechatError struct {
	Code       ErrorCode
	ServerCode string
	Message    string
	Wrapped    error
}

func (e *WirechatError) Error() string {
	name := e.Code.String()
	if e.ServerCode != "" {
		name = e.ServerCode
	}
	msg := name + ": " + e.Message
	if e.Wrapped == nil {
		return msg
	}
	return msg + ": " + e.Wrapped.Error()
}

func (e *WirechatError) Unwrap() error { return e.Wrapped }

func (e *WirechatError) Is(target error) bool {
	var t *WirechatError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a WirechatError without a cause.
func NewError(code ErrorCode, message string) *WirechatError {
	return WrapError(code, message, nil)
}

// WrapError builds a WirechatError around err.
func WrapError(code ErrorCode, message string, err error) *WirechatError {
	return &WirechatError{Code: code, Message: message, Wrapped: err}
}

// FromProtocolError lifts a server error frame into a WirechatError.
func FromProtocolError(e *ProtocolError) *WirechatError {
	if e == nil {
		return nil
	}
	we := NewError(ParseErrorCode(e.Code), e.Msg)
	we.ServerCode = e.Code
	if we.ServerCode == "" {
		we.ServerCode = ErrorUnknown.String()
	}
	return we
}

// IsProtocolError reports whether err originated from a server error frame.
func IsProtocolError(err error) bool {
	return classOf(err) == classProtocol
}

// IsConnectionError reports whether err describes a failed or lost connection.
func IsConnectionError(err error) bool {
	return classOf(err) == classConnection
}

func classOf(err error) errorClass {
	var we *WirechatError
	if !errors.As(err, &we) {
		return classLocal
	}
	if we.ServerCode != "" {
		return classProtocol
	}
	return codeTable[we.Code].class
}
