package wirechat_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/wirechattest"
)

type harness struct {
	client *wirechat.Client
	dialer *wirechattest.Dialer
	sched  *wirechattest.Scheduler
}

func newHarness(t *testing.T, mutate ...func(*wirechat.Config)) *harness {
	t.Helper()
	cfg := wirechat.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	d := wirechattest.NewDialer()
	s := wirechattest.NewScheduler()
	c, err := wirechat.NewClient(cfg, d, wirechat.WithScheduler(s))
	require.NoError(t, err)
	return &harness{client: c, dialer: d, sched: s}
}

func (h *harness) connect(t *testing.T, userID string) *wirechattest.Transport {
	t.Helper()
	require.NoError(t, h.client.Connect(context.Background(), userID, "tok"))
	tr := h.dialer.Last()
	require.NotNil(t, tr)
	return tr
}

// recorder collects typed payloads published under one event.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func record[T any](c *wirechat.Client, event string) *recorder[T] {
	r := &recorder[T]{}
	wirechat.Subscribe(c, event, func(v T) {
		r.mu.Lock()
		r.got = append(r.got, v)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func decode[T any](t *testing.T, f wirechat.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestConnectPublishesConnection(t *testing.T) {
	h := newHarness(t)
	conns := record[wirechat.ConnectionEvent](h.client, wirechat.EventConnection)
	states := record[wirechat.StateEvent](h.client, wirechat.EventStateChanged)

	tr := h.connect(t, "u1")
	require.Equal(t, wirechat.Handshake{UserID: "u1", Token: "tok"}, tr.Handshake)
	require.Equal(t, wirechat.StateConnected, h.client.State())
	require.Equal(t, []wirechat.ConnectionEvent{{Connected: true, UserID: "u1"}}, conns.all())
	require.Equal(t, []wirechat.StateEvent{
		{OldState: wirechat.StateDisconnected, NewState: wirechat.StateConnecting},
		{OldState: wirechat.StateConnecting, NewState: wirechat.StateConnected},
	}, states.all())

	st := h.client.ConnectionStatus()
	require.True(t, st.Connected)
	require.Equal(t, "u1", st.UserID)
	require.Equal(t, uint64(1), st.Epoch)
}

func TestConnectSameUserIsNoop(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "u1")
	require.NoError(t, h.client.Connect(context.Background(), "u1", "tok"))
	require.Equal(t, 1, h.dialer.Dials())
	require.Len(t, h.dialer.Transports(), 1)
}

func TestConnectOtherUserWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "u1")
	err := h.client.Connect(context.Background(), "u2", "")
	require.ErrorIs(t, err, wirechat.ErrAlreadyConnected)
	require.Len(t, h.dialer.Transports(), 1)
}

func TestConnectTransportErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailNext(errors.New("connection refused"))

	err := h.client.Connect(context.Background(), "u1", "")
	require.ErrorIs(t, err, wirechat.ErrTransport)
	require.True(t, wirechat.IsConnectionError(err))
	require.Equal(t, wirechat.StateDisconnected, h.client.State())

	// a fresh connect is accepted afterwards
	h.connect(t, "u1")
}

func TestConnectHandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	h.dialer.Hang(true)

	done := h.client.ConnectAsync(context.Background(), "u1", "")
	require.Eventually(t, func() bool { return h.dialer.Dials() == 1 && h.sched.Pending() == 1 },
		time.Second, time.Millisecond)
	require.Equal(t, wirechat.StateConnecting, h.client.State())

	h.sched.Advance(10 * time.Second)
	select {
	case err := <-done:
		require.ErrorIs(t, err, wirechat.ErrHandshakeTimeout)
	case <-time.After(time.Second):
		t.Fatal("connect did not resolve")
	}
	require.Equal(t, wirechat.StateDisconnected, h.client.State())
}

func TestConnectWhileConnectingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.dialer.Hang(true)
	done := h.client.ConnectAsync(context.Background(), "u1", "")
	require.Eventually(t, func() bool { return h.dialer.Dials() == 1 }, time.Second, time.Millisecond)

	err := h.client.Connect(context.Background(), "u1", "")
	require.ErrorIs(t, err, wirechat.ErrConnectInProgress)

	require.NoError(t, h.client.Disconnect())
	require.ErrorIs(t, <-done, wirechat.ErrDisconnectedDuringDial)
	require.Equal(t, 1, h.dialer.Dials())
}

func TestDisconnectDuringDialLeavesNoTransport(t *testing.T) {
	h := newHarness(t)
	h.dialer.Hang(true)
	done := h.client.ConnectAsync(context.Background(), "u1", "")
	require.Eventually(t, func() bool { return h.dialer.Dials() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.client.Disconnect())
	require.Error(t, <-done)
	require.Equal(t, wirechat.StateDisconnected, h.client.State())
	require.Zero(t, h.sched.Pending())
	require.Empty(t, h.dialer.Transports())
}

func TestSendMessageWhileConnected(t *testing.T) {
	h := newHarness(t)
	tr := h.connect(t, "u1")

	env, ok := h.client.SendMessage("c1", "hello")
	require.True(t, ok)

	sent := tr.SentOfType("sendMessage")
	require.Len(t, sent, 1)
	m := decode[wirechat.MessageEnvelope](t, sent[0])
	require.Equal(t, "c1", m.ConversationID)
	require.Equal(t, "hello", m.Content)
	require.Equal(t, "u1", m.SenderID)
	require.NotEmpty(t, m.MessageID)
	require.Equal(t, env.MessageID, m.MessageID)
	require.False(t, m.IsRead)
	require.Equal(t, "text", m.Type)
}

func TestGuardedSendsWhileDisconnected(t *testing.T) {
	h := newHarness(t)

	require.NotPanics(t, func() {
		_, ok := h.client.SendMessage("c1", "hello")
		require.False(t, ok)
		require.False(t, h.client.EditMessage("m1", "x"))
		require.False(t, h.client.DeleteMessage("m1"))
		require.False(t, h.client.SendTypingIndicator("u2", true))
		require.False(t, h.client.SendConversationTyping("c1", true))
		require.False(t, h.client.SendConnectionRequest("u2", "hi"))
		require.False(t, h.client.JoinConversation("c1"))
		require.False(t, h.client.LeaveConversation("c1"))
	})
	require.Zero(t, h.dialer.Dials())
	require.Zero(t, h.sched.Pending())

	tr := h.connect(t, "u1")
	require.NoError(t, h.client.Disconnect())
	_, ok := h.client.SendMessage("c1", "late")
	require.False(t, ok)
	require.Empty(t, tr.SentOfType("sendMessage"))
}

func TestOutboundFrameShapes(t *testing.T) {
	h := newHarness(t)
	tr := h.connect(t, "u1")

	require.True(t, h.client.EditMessage("m1", "fixed"))
	require.True(t, h.client.DeleteMessage("m1"))
	require.True(t, h.client.SendConnectionRequest("u2", "let's talk"))
	require.True(t, h.client.JoinConversation("c1"))
	require.True(t, h.client.LeaveConversation("c1"))

	edit := decode[wirechat.MessageEnvelope](t, tr.SentOfType("editMessage")[0])
	require.Equal(t, "m1", edit.MessageID)
	require.Equal(t, "u1", edit.SenderID)
	require.NotNil(t, edit.UpdatedAt)

	del := decode[wirechat.MessageEnvelope](t, tr.SentOfType("deleteMessage")[0])
	require.NotNil(t, del.DeletedAt)

	req := decode[wirechat.ConnectionRequestPayload](t, tr.SentOfType("connection_request")[0])
	require.Equal(t, "u2", req.ReceiverID)
	require.Equal(t, h.sched.Now().UnixMilli(), req.Timestamp)

	join := decode[wirechat.ConversationPayload](t, tr.SentOfType("join_conversation")[0])
	require.Equal(t, "c1", join.ConversationID)
	require.Len(t, tr.SentOfType("leave_conversation"), 1)
}

func TestEditAndDeleteRequireMessageID(t *testing.T) {
	h := newHarness(t)
	tr := h.connect(t, "u1")

	require.False(t, h.client.EditMessage("", "x"))
	require.False(t, h.client.DeleteMessage(""))
	require.Empty(t, tr.SentOfType("editMessage"))
	require.Empty(t, tr.SentOfType("deleteMessage"))
}

func TestOnDeliversRawPayload(t *testing.T) {
	h := newHarness(t)
	var got []any
	var fn wirechat.EventHandler = func(payload any) { got = append(got, payload) }
	h.client.On("room_archived", fn)
	tr := h.connect(t, "u1")
	tr.Emit("room_archived", map[string]any{"roomId": "r1"})

	require.Len(t, got, 1)
	raw, ok := got[0].(json.RawMessage)
	require.True(t, ok)
	require.JSONEq(t, `{"roomId":"r1"}`, string(raw))
}

func TestInboundEventsReachSubscribers(t *testing.T) {
	h := newHarness(t)
	var got []wirechat.MessageEnvelope
	var errs []error
	h.client.OnMessage(func(m wirechat.MessageEnvelope) { got = append(got, m) })
	h.client.OnError(func(err error) { errs = append(errs, err) })
	tr := h.connect(t, "u1")

	tr.Emit("message_received", map[string]any{"messageId": "m1", "senderId": "u2", "content": "one"})
	tr.Emit("message_received", map[string]any{"messageId": "m2", "senderId": "u2", "content": "two"})
	tr.Emit("error", map[string]string{"code": "access_denied", "msg": "nope"})

	require.Len(t, got, 2)
	require.Equal(t, "m1", got[0].MessageID)
	require.Equal(t, "m2", got[1].MessageID)
	require.Len(t, errs, 1)
	require.True(t, wirechat.IsProtocolError(errs[0]))
}

func TestPresenceFromInboundFrames(t *testing.T) {
	h := newHarness(t)
	var changes []wirechat.PresenceChange
	h.client.OnPresence(func(c wirechat.PresenceChange) { changes = append(changes, c) })
	tr := h.connect(t, "u1")

	tr.Emit("online_status", map[string]any{"userId": "u2", "isOnline": true})
	tr.Emit("user_online", map[string]any{"userId": "u3"})
	require.Equal(t, []string{"u2", "u3"}, h.client.OnlineUsers())

	tr.Emit("online_status", map[string]any{"userId": "u2", "isOnline": false})
	require.False(t, h.client.IsUserOnline("u2"))
	require.True(t, h.client.IsUserOnline("u3"))
	require.Len(t, changes, 3)
}

func TestDisconnectClearsEverything(t *testing.T) {
	h := newHarness(t)
	var msgs int
	h.client.OnMessage(func(wirechat.MessageEnvelope) { msgs++ })
	tr := h.connect(t, "u1")
	tr.Emit("online_status", map[string]any{"userId": "u2", "isOnline": true})
	tr.Emit("typing", map[string]any{"userId": "u2", "isTyping": true})
	require.True(t, h.client.SendTypingIndicator("u2", true))
	require.True(t, h.client.JoinConversation("c1"))
	require.NotZero(t, h.sched.Pending())

	require.NoError(t, h.client.Disconnect())
	require.True(t, tr.Closed())
	require.Equal(t, wirechat.StateDisconnected, h.client.State())
	require.Empty(t, h.client.OnlineUsers())
	require.Empty(t, h.client.TypingPeers())
	require.Zero(t, h.sched.Pending())
	require.Equal(t, wirechat.SessionContext{Epoch: 2}, h.client.Session())

	// subscriptions were dropped, but presence still works on the next session
	tr2 := h.connect(t, "u1")
	tr2.Emit("message_received", map[string]any{"messageId": "m1", "senderId": "u2"})
	require.Zero(t, msgs)
	tr2.Emit("online_status", map[string]any{"userId": "u4", "isOnline": true})
	require.True(t, h.client.IsUserOnline("u4"))
	require.Empty(t, tr2.SentOfType("join_conversation"))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Disconnect())
	h.connect(t, "u1")
	require.NoError(t, h.client.Disconnect())
	epoch := h.client.Session().Epoch
	require.NoError(t, h.client.Disconnect())
	require.Equal(t, epoch, h.client.Session().Epoch)
}

func TestFramesFromClosedTransportAreIgnored(t *testing.T) {
	h := newHarness(t)
	old := h.connect(t, "u1")
	require.NoError(t, h.client.Disconnect())
	h.connect(t, "u1")

	var msgs int
	h.client.OnMessage(func(wirechat.MessageEnvelope) { msgs++ })
	old.Emit("message_received", map[string]any{"messageId": "stale", "senderId": "u2"})
	old.Drop(errors.New("late loss"))
	require.Zero(t, msgs)
	require.Equal(t, wirechat.StateConnected, h.client.State())
}

func TestFramesDuringHandshakeAreNotLost(t *testing.T) {
	cfg := wirechat.DefaultConfig()
	var got []string
	d := wirechat.DialerFunc(func(ctx context.Context, hs wirechat.Handshake, hd wirechat.Handler) (wirechat.Transport, error) {
		hd.HandleFrame(wirechat.Frame{Type: "message_received", Data: json.RawMessage(`{"messageId":"early","senderId":"u2"}`)})
		return &wirechattest.Transport{}, nil
	})
	c, err := wirechat.NewClient(cfg, d, wirechat.WithScheduler(wirechattest.NewScheduler()))
	require.NoError(t, err)
	c.OnMessage(func(m wirechat.MessageEnvelope) { got = append(got, m.MessageID) })

	require.NoError(t, c.Connect(context.Background(), "u1", ""))
	require.Equal(t, []string{"early"}, got)
}

func TestReconnectSchedule(t *testing.T) {
	h := newHarness(t)
	conns := record[wirechat.ConnectionEvent](h.client, wirechat.EventConnection)
	failed := record[wirechat.ConnectionFailedEvent](h.client, wirechat.EventConnectionFailed)
	tr := h.connect(t, "u1")

	h.dialer.FailNext(
		errors.New("down"), errors.New("down"), errors.New("down"),
		errors.New("down"), errors.New("down"),
	)
	tr.Drop(errors.New("network reset"))
	require.Equal(t, wirechat.StateReconnecting, h.client.State())

	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, d := range delays {
		h.sched.Advance(d - time.Millisecond)
		require.Equal(t, 1+i, h.dialer.Dials(), "attempt %d fired early", i+1)
		h.sched.Advance(time.Millisecond)
		require.Equal(t, 2+i, h.dialer.Dials(), "attempt %d did not fire", i+1)
	}

	require.Equal(t, wirechat.StateFailed, h.client.State())
	require.Len(t, failed.all(), 1)
	require.Equal(t, 5, failed.all()[0].Attempts)
	require.ErrorIs(t, failed.all()[0].Err, wirechat.ErrMaxReconnectAttempts)

	var attempts []int
	for _, ev := range conns.all() {
		if ev.Reconnecting {
			attempts = append(attempts, ev.Attempt)
		}
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, attempts)

	// no more attempts after giving up
	h.sched.Advance(time.Minute)
	require.Equal(t, 6, h.dialer.Dials())

	// an explicit connect starts over
	h.connect(t, "u1")
	require.Equal(t, wirechat.StateConnected, h.client.State())
}

func TestReconnectSuccessResetsAndRejoins(t *testing.T) {
	h := newHarness(t)
	conns := record[wirechat.ConnectionEvent](h.client, wirechat.EventConnection)
	tr := h.connect(t, "u1")
	require.True(t, h.client.JoinConversation("c1"))
	require.True(t, h.client.JoinConversation("c2"))
	require.True(t, h.client.LeaveConversation("c2"))

	h.dialer.FailNext(errors.New("down"))
	tr.Drop(errors.New("reset"))
	h.sched.Advance(time.Second) // attempt 1 fails, attempt 2 is armed
	require.Equal(t, 2, h.client.Session().ReconnectAttempt)
	h.sched.Advance(2 * time.Second) // attempt 2 succeeds

	require.Equal(t, wirechat.StateConnected, h.client.State())
	require.Zero(t, h.client.Session().ReconnectAttempt)
	require.Equal(t, uint64(1), h.client.Session().Epoch)

	tr2 := h.dialer.Last()
	require.NotSame(t, tr, tr2)
	joins := tr2.SentOfType("join_conversation")
	require.Len(t, joins, 1)
	require.Equal(t, "c1", decode[wirechat.ConversationPayload](t, joins[0]).ConversationID)

	last := conns.all()[len(conns.all())-1]
	require.True(t, last.Connected)
	require.True(t, last.Reconnected)

	// a later loss starts the schedule from the base delay again
	tr2.Drop(errors.New("again"))
	h.sched.Advance(time.Second)
	require.Equal(t, wirechat.StateConnected, h.client.State())
}

func TestSendsDuringReconnectAreDropped(t *testing.T) {
	h := newHarness(t)
	tr := h.connect(t, "u1")
	h.dialer.Hang(true)
	tr.Drop(errors.New("reset"))

	_, ok := h.client.SendMessage("c1", "lost")
	require.False(t, ok)
	require.False(t, h.client.SendTypingIndicator("u2", true))
	require.Empty(t, tr.SentOfType("sendMessage"))
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connect(t, "u1")
	tr.Drop(errors.New("reset"))
	require.Equal(t, 1, h.sched.Pending())

	require.NoError(t, h.client.Disconnect())
	require.Zero(t, h.sched.Pending())
	h.sched.Advance(time.Minute)
	require.Equal(t, 1, h.dialer.Dials())
	require.Equal(t, wirechat.StateDisconnected, h.client.State())
}

func TestZeroReconnectAttemptsFailsImmediately(t *testing.T) {
	h := newHarness(t, func(c *wirechat.Config) { c.MaxReconnectAttempts = 0 })
	failed := record[wirechat.ConnectionFailedEvent](h.client, wirechat.EventConnectionFailed)
	tr := h.connect(t, "u1")
	tr.Drop(errors.New("reset"))
	require.Equal(t, wirechat.StateFailed, h.client.State())
	require.Len(t, failed.all(), 1)
}

func TestHandlerMayCallBackIntoClient(t *testing.T) {
	h := newHarness(t)
	h.client.OnMessage(func(m wirechat.MessageEnvelope) {
		h.client.SendMessage(m.ConversationID, "echo: "+m.Content)
	})
	tr := h.connect(t, "u1")
	tr.Emit("message_received", map[string]any{"messageId": "m1", "conversationId": "c1", "senderId": "u2", "content": "hi"})

	sent := tr.SentOfType("sendMessage")
	require.Len(t, sent, 1)
	require.Equal(t, "echo: hi", decode[wirechat.MessageEnvelope](t, sent[0]).Content)
}

func TestOffStopsDelivery(t *testing.T) {
	h := newHarness(t)
	var n int
	tok := h.client.OnNotification(func(wirechat.Notification) { n++ })
	tr := h.connect(t, "u1")
	tr.Emit("notification", map[string]any{"id": "n1", "type": "info", "message": "x", "createdAt": "2024-01-01T00:00:00Z"})
	require.True(t, h.client.Off(tok))
	tr.Emit("notification", map[string]any{"id": "n2", "type": "info", "message": "y", "createdAt": "2024-01-01T00:00:00Z"})
	require.Equal(t, 1, n)
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := wirechat.DefaultConfig()
	cfg.HandshakeTimeout = 0
	_, err := wirechat.NewClient(cfg, wirechattest.NewDialer())
	require.ErrorIs(t, err, wirechat.ErrInvalidConfig)

	_, err = wirechat.NewClient(wirechat.DefaultConfig(), nil)
	require.ErrorIs(t, err, wirechat.ErrInvalidConfig)
}

func TestConnectRequiresUserID(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.client.Connect(context.Background(), "", ""), wirechat.ErrInvalidConfig)
	require.Zero(t, h.dialer.Dials())
}
