package wirechat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Client owns one realtime session: the transport lifecycle, reconnection,
// and the standing presence and typing subscribers.
type Client struct {
	cfg        Config
	dialer     Dialer
	logger     Logger
	sched      Scheduler
	ids        IDGenerator
	bus        *EventBus
	dispatcher *Dispatcher
	presence   *PresenceTracker
	typing     *TypingController
	envelopes  EnvelopeBuilder
	tasks      *taskArena
	backoff    *reconnectBackoff

	mu         sync.Mutex
	state      ConnectionState
	session    SessionContext
	epoch      uint64
	gen        uint64 // generation of the installed transport, 0 if none
	nextGen    uint64
	transport  Transport
	dialCancel context.CancelFunc
	joined     map[string]struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithLogger overrides the noop logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScheduler replaces the wall clock and timers.
func WithScheduler(s Scheduler) Option {
	return func(c *Client) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithIDGenerator replaces the message id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.ids = g
		}
	}
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config, dialer Dialer, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, NewError(ErrorInvalidConfig, "nil dialer")
	}
	c := &Client{
		cfg:    cfg,
		dialer: dialer,
		logger: noopLogger{},
		sched:  RealScheduler{},
		ids:    NewMessageID,
		joined: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bus = NewEventBus(c.logger)
	c.dispatcher = NewDispatcher(c.bus, c.logger)
	c.tasks = newTaskArena(c.sched)
	c.backoff = newReconnectBackoff(cfg)
	c.envelopes = NewEnvelopeBuilder(c.sched, c.ids)
	c.presence = NewPresenceTracker(c.bus)
	c.typing = newTypingController(c.bus, c.tasks, c.sched, c.transmit, c.logger, cfg)
	c.attachStanding()
	return c, nil
}

func (c *Client) attachStanding() {
	c.presence.Attach()
	c.typing.Attach()
}

// Connect opens a session for userID and blocks until the first handshake
// succeeds, fails, or ctx is done. Connecting again as the connected user is
// a no-op. Later connection losses are handled internally and reported only
// through events.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	if userID == "" {
		return NewError(ErrorInvalidConfig, "empty user id")
	}
	c.mu.Lock()
	switch {
	case c.state == StateConnected && c.session.UserID == userID:
		c.mu.Unlock()
		return nil
	case c.state == StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case !c.state.acceptsConnect():
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	epoch := c.epoch
	c.session = SessionContext{UserID: userID, Token: token}
	c.joined = make(map[string]struct{})
	ctx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	old := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	defer cancel()

	c.presence.Reset()
	c.logger.Info("connecting", map[string]any{"user": userID})
	c.publishState(old, StateConnecting, nil)

	t, h, err := c.dial(ctx, epoch, Handshake{UserID: userID, Token: token})

	c.mu.Lock()
	c.dialCancel = nil
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return ErrDisconnectedDuringDial
	}
	if err != nil {
		c.session = SessionContext{}
		old := c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.logger.Warn("connect failed", map[string]any{"user": userID, "error": err.Error()})
		c.publishState(old, StateDisconnected, err)
		return err
	}
	c.epoch++
	epoch = c.epoch
	c.tasks.Reset(epoch)
	c.typing.reset(epoch)
	c.transport = t
	c.gen = h.gen
	c.session.ReconnectAttempt = 0
	c.backoff.Reset()
	old = c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected", map[string]any{"user": userID, "epoch": epoch})
	c.publishState(old, StateConnected, nil)
	c.bus.Publish(EventConnection, ConnectionEvent{Connected: true, UserID: userID})
	h.activate()
	return nil
}

// ConnectAsync runs Connect in the background. The returned channel receives
// its outcome exactly once.
func (c *Client) ConnectAsync(ctx context.Context, userID, token string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Connect(ctx, userID, token)
	}()
	return done
}

// Disconnect ends the session. It cancels every pending timer and in-flight
// dial, closes the transport, and clears all subscriptions and derived state.
// Calling it while disconnected does nothing.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	t := c.transport
	cancel := c.dialCancel
	userID := c.session.UserID
	c.transport = nil
	c.dialCancel = nil
	c.gen = 0
	c.epoch++
	epoch := c.epoch
	cancelled := c.tasks.Reset(epoch)
	c.typing.reset(epoch)
	c.session = SessionContext{}
	c.joined = make(map[string]struct{})
	c.backoff.Reset()
	old := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if t != nil {
		err = t.Close()
	}
	c.presence.Reset()
	c.logger.Info("disconnected", map[string]any{"user": userID, "epoch": epoch, "cancelled_tasks": cancelled})
	c.publishState(old, StateDisconnected, nil)
	c.bus.Publish(EventConnection, ConnectionEvent{UserID: userID, Reason: "client disconnect"})

	c.bus.Reset()
	c.attachStanding()
	return err
}

// dial opens one transport under epoch, bounded by the handshake task.
func (c *Client) dial(ctx context.Context, epoch uint64, hs Handshake) (Transport, *transportHandler, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	c.tasks.Schedule(epoch, handshakeTask, c.cfg.HandshakeTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer c.tasks.Cancel(epoch, handshakeTask)

	c.mu.Lock()
	c.nextGen++
	h := &transportHandler{c: c, gen: c.nextGen}
	c.mu.Unlock()

	t, err := c.dialer.Dial(ctx, hs, h)
	if timedOut.Load() {
		if t != nil {
			_ = t.Close()
		}
		return nil, nil, WrapError(ErrorHandshakeTimeout, "handshake timed out", err)
	}
	if err != nil {
		return nil, nil, WrapError(ErrorTransport, "dial failed", err)
	}
	return t, h, nil
}

// handleFrame dispatches a frame from transport generation gen if that
// transport is still the live one.
func (c *Client) handleFrame(gen uint64, f Frame) {
	c.mu.Lock()
	live := gen == c.gen && c.state == StateConnected
	c.mu.Unlock()
	if !live {
		c.logger.Debug("dropping frame from stale transport", map[string]any{"type": f.Type, "gen": gen})
		return
	}
	c.dispatcher.Dispatch(f)
}

func (c *Client) setStateLocked(s ConnectionState) ConnectionState {
	old := c.state
	c.state = s
	c.session.State = s
	return old
}

func (c *Client) publishState(old, cur ConnectionState, err error) {
	if old == cur {
		return
	}
	c.logger.Debug("state changed", map[string]any{"from": old.String(), "to": cur.String()})
	c.bus.Publish(EventStateChanged, StateEvent{OldState: old, NewState: cur, Error: err})
}

func (c *Client) joinedLocked() []string {
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// connected returns the live epoch and user, or ok=false.
func (c *Client) connected() (epoch uint64, userID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return 0, "", false
	}
	return c.epoch, c.session.UserID, true
}

// transmit hands f to the transport if the session of epoch is still
// connected. Write failures are logged; loss detection stays with the
// transport's read side.
func (c *Client) transmit(epoch uint64, f Frame) bool {
	c.mu.Lock()
	t := c.transport
	ok := c.state == StateConnected && c.epoch == epoch && t != nil
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("send dropped: not connected", map[string]any{"type": f.Type})
		return false
	}
	if err := t.Send(f); err != nil {
		c.logger.Warn("send failed", map[string]any{"type": f.Type, "error": err.Error()})
		return false
	}
	return true
}

func (c *Client) sendFrame(epoch uint64, typ string, payload any) bool {
	f, err := NewFrame(typ, payload, c.sched.Now())
	if err != nil {
		c.logger.Error("build frame", map[string]any{"type": typ, "error": err.Error()})
		return false
	}
	return c.transmit(epoch, f)
}

func (c *Client) sendConversation(epoch uint64, typ, conversationID string) bool {
	return c.sendFrame(epoch, typ, ConversationPayload{ConversationID: conversationID})
}

// SendMessage sends a new message to conversationID as the session user.
// It returns the envelope and whether it was handed to the transport; while
// not connected nothing is sent.
func (c *Client) SendMessage(conversationID, content string, opts ...MessageOption) (MessageEnvelope, bool) {
	epoch, userID, ok := c.connected()
	if !ok {
		c.logger.Debug("send dropped: not connected", map[string]any{"type": frameSendMessage})
		return MessageEnvelope{}, false
	}
	m := c.envelopes.NewMessage(userID, conversationID, content, opts...)
	return m, c.sendFrame(epoch, frameSendMessage, m)
}

// EditMessage replaces the content of messageID. An empty messageID sends
// nothing.
func (c *Client) EditMessage(messageID, content string) bool {
	if messageID == "" {
		c.logger.Debug("send dropped: empty message id", map[string]any{"type": frameEditMessage})
		return false
	}
	epoch, userID, ok := c.connected()
	if !ok {
		return false
	}
	return c.sendFrame(epoch, frameEditMessage, c.envelopes.EditMessage(userID, messageID, content))
}

// DeleteMessage deletes messageID. An empty messageID sends nothing.
func (c *Client) DeleteMessage(messageID string) bool {
	if messageID == "" {
		c.logger.Debug("send dropped: empty message id", map[string]any{"type": frameDeleteMessage})
		return false
	}
	epoch, userID, ok := c.connected()
	if !ok {
		return false
	}
	return c.sendFrame(epoch, frameDeleteMessage, c.envelopes.DeleteMessage(userID, messageID))
}

// SendTypingIndicator tells peerID whether the user is typing. A true
// indicator turns itself off after Config.TypingTimeout.
func (c *Client) SendTypingIndicator(peerID string, isTyping bool) bool {
	epoch, _, ok := c.connected()
	if !ok {
		return false
	}
	return c.typing.send(epoch, TypingTarget{ReceiverID: peerID}, isTyping)
}

// SendConversationTyping is SendTypingIndicator for a whole conversation.
func (c *Client) SendConversationTyping(conversationID string, isTyping bool) bool {
	epoch, _, ok := c.connected()
	if !ok {
		return false
	}
	return c.typing.send(epoch, TypingTarget{ConversationID: conversationID}, isTyping)
}

// SendConnectionRequest asks receiverID to connect.
func (c *Client) SendConnectionRequest(receiverID, message string) bool {
	epoch, _, ok := c.connected()
	if !ok {
		return false
	}
	return c.sendFrame(epoch, frameConnectionRequest, ConnectionRequestPayload{
		ReceiverID: receiverID,
		Message:    message,
		Timestamp:  c.sched.Now().UnixMilli(),
	})
}

// JoinConversation subscribes to conversationID. Joined conversations are
// joined again after a reconnect.
func (c *Client) JoinConversation(conversationID string) bool {
	epoch, _, ok := c.connected()
	if !ok {
		return false
	}
	if !c.sendConversation(epoch, frameJoinConversation, conversationID) {
		return false
	}
	c.mu.Lock()
	if c.epoch == epoch {
		c.joined[conversationID] = struct{}{}
	}
	c.mu.Unlock()
	return true
}

// LeaveConversation unsubscribes from conversationID.
func (c *Client) LeaveConversation(conversationID string) bool {
	epoch, _, ok := c.connected()
	if !ok {
		return false
	}
	c.mu.Lock()
	if c.epoch == epoch {
		delete(c.joined, conversationID)
	}
	c.mu.Unlock()
	return c.sendConversation(epoch, frameLeaveConversation, conversationID)
}

// On registers fn for event and returns its token.
func (c *Client) On(event string, fn EventHandler) Token { return c.bus.Subscribe(event, fn) }

// Off removes a subscription. It reports whether tok was live.
func (c *Client) Off(tok Token) bool { return c.bus.Unsubscribe(tok) }

// Subscribe registers a typed handler on c.
func Subscribe[T any](c *Client, event string, fn func(T)) Token {
	return SubscribeTyped(c.bus, event, fn)
}

// OnMessage registers callback for received messages.
func (c *Client) OnMessage(fn func(MessageEnvelope)) Token {
	return Subscribe(c, EventMessageReceived, fn)
}

// OnTyping registers callback for remote typing changes.
func (c *Client) OnTyping(fn func(TypingChange)) Token {
	return Subscribe(c, EventTypingChanged, fn)
}

// OnPresence registers callback for presence changes.
func (c *Client) OnPresence(fn func(PresenceChange)) Token {
	return Subscribe(c, EventPresenceChanged, fn)
}

// OnConnection registers callback for connection events.
func (c *Client) OnConnection(fn func(ConnectionEvent)) Token {
	return Subscribe(c, EventConnection, fn)
}

// OnConnectionFailed registers callback for when reconnection gives up.
func (c *Client) OnConnectionFailed(fn func(ConnectionFailedEvent)) Token {
	return Subscribe(c, EventConnectionFailed, fn)
}

// OnStateChanged registers callback for state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) Token {
	return Subscribe(c, EventStateChanged, fn)
}

// OnError registers callback for server and decoding errors.
func (c *Client) OnError(fn func(error)) Token {
	return Subscribe(c, EventError, fn)
}

// OnHistory registers callback for conversation history.
func (c *Client) OnHistory(fn func(HistoryEvent)) Token {
	return Subscribe(c, EventConversationHistory, fn)
}

// OnNotification registers callback for notifications.
func (c *Client) OnNotification(fn func(Notification)) Token {
	return Subscribe(c, EventNotification, fn)
}

// OnlineUsers returns the users believed online, sorted.
func (c *Client) OnlineUsers() []string { return c.presence.OnlineUsers() }

// IsUserOnline reports whether id is believed online.
func (c *Client) IsUserOnline(id string) bool { return c.presence.IsUserOnline(id) }

// IsTyping reports whether peer is typing in any conversation.
func (c *Client) IsTyping(peer string) bool { return c.typing.IsTyping(peer) }

// IsTypingIn reports whether peer is typing in conversationID.
func (c *Client) IsTypingIn(peer, conversationID string) bool {
	return c.typing.IsTypingIn(peer, conversationID)
}

// TypingPeers returns the peers currently typing.
func (c *Client) TypingPeers() []string { return c.typing.Peers() }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session.
func (c *Client) Session() SessionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.Epoch = c.epoch
	s.State = c.state
	return s
}

// ConnectionStatus summarises the connection for display.
func (c *Client) ConnectionStatus() ConnectionStatus {
	s := c.Session()
	return ConnectionStatus{
		State:            s.State,
		Connected:        s.State == StateConnected,
		UserID:           s.UserID,
		Epoch:            s.Epoch,
		ReconnectAttempt: s.ReconnectAttempt,
	}
}
