package wirechat

import (
	"sort"
	"sync"
	"time"
)

// TypingTarget addresses an outbound typing indicator: a single peer or a
// whole conversation.
type TypingTarget struct {
	ReceiverID     string
	ConversationID string
}

func (t TypingTarget) key() string {
	if t.ConversationID != "" {
		return "typing:out:conv:" + t.ConversationID
	}
	return "typing:out:peer:" + t.ReceiverID
}

// remoteTyping identifies one peer typing in one conversation. An empty
// conversation means a direct indicator.
type remoteTyping struct {
	peer         string
	conversation string
}

func (r remoteTyping) key() string {
	return "typing:in:" + r.peer + "\x00" + r.conversation
}

// transmitFunc hands f to the transport if the client is still connected in
// epoch.
type transmitFunc func(epoch uint64, f Frame) bool

// TypingController emits outbound typing frames with an auto-off timeout and
// tracks remote peers' typing flags with a defensive expiry.
type TypingController struct {
	bus      *EventBus
	tasks    *taskArena
	clock    Clock
	transmit transmitFunc
	logger   Logger

	outTimeout time.Duration
	inTimeout  time.Duration

	mu     sync.Mutex
	epoch  uint64
	remote map[remoteTyping]struct{}
}

func newTypingController(bus *EventBus, tasks *taskArena, clock Clock, transmit transmitFunc, logger Logger, cfg Config) *TypingController {
	return &TypingController{
		bus:        bus,
		tasks:      tasks,
		clock:      clock,
		transmit:   transmit,
		logger:     logger,
		outTimeout: cfg.TypingTimeout,
		inTimeout:  cfg.RemoteTypingTimeout,
		remote:     make(map[remoteTyping]struct{}),
	}
}

// Attach subscribes the controller to inbound typing events.
func (t *TypingController) Attach() Token {
	return SubscribeTyped(t.bus, EventTyping, t.handleRemote)
}

// send transmits a typing frame for target. A true indicator (re)arms the
// auto-off task, so repeated calls within the timeout yield a single false.
func (t *TypingController) send(epoch uint64, target TypingTarget, isTyping bool) bool {
	key := target.key()
	if !isTyping {
		t.tasks.Cancel(epoch, key)
		return t.transmit(epoch, t.frame(target, false))
	}
	sent := t.transmit(epoch, t.frame(target, true))
	if sent {
		t.tasks.Schedule(epoch, key, t.outTimeout, func() {
			t.transmit(epoch, t.frame(target, false))
		})
	}
	return sent
}

func (t *TypingController) frame(target TypingTarget, isTyping bool) Frame {
	now := t.clock.Now()
	f, err := NewFrame(frameTyping, TypingPayload{
		ReceiverID:     target.ReceiverID,
		ConversationID: target.ConversationID,
		IsTyping:       isTyping,
		Timestamp:      now.UnixMilli(),
	}, now)
	if err != nil {
		// TypingPayload has only plain fields; marshal cannot fail.
		t.logger.Error("typing frame", map[string]any{"error": err.Error()})
	}
	return f
}

func (t *TypingController) handleRemote(ev TypingEvent) {
	peer := ev.peer()
	if peer == "" {
		return
	}
	rt := remoteTyping{peer: peer, conversation: ev.ConversationID}

	t.mu.Lock()
	epoch := t.epoch
	_, was := t.remote[rt]
	if ev.IsTyping {
		t.remote[rt] = struct{}{}
	} else {
		delete(t.remote, rt)
	}
	t.mu.Unlock()

	if ev.IsTyping {
		t.tasks.Schedule(epoch, rt.key(), t.inTimeout, func() { t.expire(epoch, rt) })
	} else {
		t.tasks.Cancel(epoch, rt.key())
	}
	if was != ev.IsTyping {
		t.bus.Publish(EventTypingChanged, TypingChange{PeerID: peer, ConversationID: ev.ConversationID, IsTyping: ev.IsTyping})
	}
}

// expire clears a typing flag that was never refreshed or cleared.
func (t *TypingController) expire(epoch uint64, rt remoteTyping) {
	t.mu.Lock()
	_, ok := t.remote[rt]
	if t.epoch != epoch || !ok {
		t.mu.Unlock()
		return
	}
	delete(t.remote, rt)
	t.mu.Unlock()

	t.logger.Debug("remote typing expired", map[string]any{"peer": rt.peer, "conversation": rt.conversation})
	t.bus.Publish(EventTypingChanged, TypingChange{PeerID: rt.peer, ConversationID: rt.conversation, IsTyping: false, Expired: true})
}

// IsTyping reports whether peer is typing anywhere.
func (t *TypingController) IsTyping(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rt := range t.remote {
		if rt.peer == peer {
			return true
		}
	}
	return false
}

// IsTypingIn reports whether peer is typing in conversationID. An empty
// conversationID asks about direct indicators.
func (t *TypingController) IsTypingIn(peer, conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.remote[remoteTyping{peer: peer, conversation: conversationID}]
	return ok
}

// Peers returns the peers currently typing anywhere, sorted.
func (t *TypingController) Peers() []string {
	t.mu.Lock()
	seen := make(map[string]struct{}, len(t.remote))
	out := make([]string, 0, len(t.remote))
	for rt := range t.remote {
		if _, dup := seen[rt.peer]; !dup {
			seen[rt.peer] = struct{}{}
			out = append(out, rt.peer)
		}
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

// reset drops all typing state and adopts epoch. Pending tasks are
// cancelled by the arena reset that accompanies every epoch change.
func (t *TypingController) reset(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = epoch
	t.remote = make(map[remoteTyping]struct{})
}
