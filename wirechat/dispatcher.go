package wirechat

import "encoding/json"

// Dispatcher decodes inbound frames and publishes them on the bus.
type Dispatcher struct {
	bus    *EventBus
	logger Logger
}

// NewDispatcher returns a dispatcher publishing on bus.
func NewDispatcher(bus *EventBus, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{bus: bus, logger: logger}
}

// Dispatch publishes f under its event name with a typed payload.
// Frames of unknown type are published as-is with their raw data.
func (d *Dispatcher) Dispatch(f Frame) {
	switch f.Type {
	case EventMessageReceived, EventMessageEdited, EventMessageDeleted:
		if ev, ok := decodeFrame[MessageEnvelope](d, f); ok {
			d.bus.Publish(f.Type, ev)
		}
	case EventTyping:
		if ev, ok := decodeFrame[TypingEvent](d, f); ok {
			d.bus.Publish(EventTyping, ev)
		}
	case EventOnlineStatus:
		if ev, ok := decodeFrame[OnlineStatusEvent](d, f); ok {
			d.bus.Publish(EventOnlineStatus, ev)
		}
	case EventUserOnline, EventUserOffline:
		d.dispatchPresenceSignal(f)
	case EventNotification:
		if ev, ok := decodeFrame[Notification](d, f); ok {
			d.bus.Publish(EventNotification, ev)
		}
	case EventConnectionRequestSent:
		if ev, ok := decodeFrame[ConnectionRequestSent](d, f); ok {
			d.bus.Publish(EventConnectionRequestSent, ev)
		}
	case EventConversationHistory:
		if ev, ok := decodeFrame[HistoryEvent](d, f); ok {
			d.bus.Publish(EventConversationHistory, ev)
		}
	case frameError:
		if pe, ok := decodeFrame[ProtocolError](d, f); ok {
			d.logger.Warn("server error", map[string]any{"code": pe.Code, "msg": pe.Msg})
			d.bus.Publish(EventError, error(FromProtocolError(&pe)))
		}
	default:
		d.logger.Debug("unknown frame", map[string]any{"type": f.Type})
		d.bus.Publish(f.Type, f.Data)
	}
}

// dispatchPresenceSignal turns user_online/user_offline into online_status.
// The data is either {"userId": ...} or a bare user id string.
func (d *Dispatcher) dispatchPresenceSignal(f Frame) {
	ev := OnlineStatusEvent{IsOnline: f.Type == EventUserOnline}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := UnmarshalData(f.Data, &obj); err == nil && obj.UserID != "" {
		ev.UserID = obj.UserID
	} else if err := json.Unmarshal(f.Data, &ev.UserID); err != nil || ev.UserID == "" {
		d.fail(f, err)
		return
	}
	d.bus.Publish(EventOnlineStatus, ev)
}

func decodeFrame[T any](d *Dispatcher, f Frame) (T, bool) {
	var v T
	if err := UnmarshalData(f.Data, &v); err != nil {
		d.fail(f, err)
		return v, false
	}
	return v, true
}

func (d *Dispatcher) fail(f Frame, err error) {
	d.logger.Warn("failed to decode frame", map[string]any{"type": f.Type, "error": errString(err)})
	d.bus.Publish(EventError, error(WrapError(ErrorSerialization, "failed to unmarshal "+f.Type+" event", err)))
}
