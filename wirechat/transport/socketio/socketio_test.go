package socketio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
)

type handler struct {
	frames []wirechat.Frame
	lost   []error
}

func (h *handler) HandleFrame(f wirechat.Frame) { h.frames = append(h.frames, f) }
func (h *handler) HandleDisconnect(err error)   { h.lost = append(h.lost, err) }

func TestDeliverWrapsEventArgs(t *testing.T) {
	h := &handler{}
	tr := &transport{handler: h, logger: wirechat.NopLogger()}

	tr.deliver(wirechat.EventOnlineStatus, []any{map[string]any{"userId": "u2", "isOnline": true}})
	tr.deliver(wirechat.EventUserOffline, []any{"u3"})
	tr.deliver("ping", nil)

	require.Len(t, h.frames, 3)
	require.Equal(t, wirechat.EventOnlineStatus, h.frames[0].Type)
	require.JSONEq(t, `{"userId":"u2","isOnline":true}`, string(h.frames[0].Data))
	require.JSONEq(t, `"u3"`, string(h.frames[1].Data))
	require.Empty(t, h.frames[2].Data)
	require.NotZero(t, h.frames[0].Timestamp)
}

func TestLossReportedOnceAndSilencesTransport(t *testing.T) {
	h := &handler{}
	tr := &transport{handler: h, logger: wirechat.NopLogger()}

	tr.lost(errors.New("transport close"))
	tr.lost(errors.New("again"))
	require.Len(t, h.lost, 1)

	tr.deliver(wirechat.EventTyping, []any{map[string]any{"userId": "u2"}})
	require.Empty(t, h.frames)
	require.Error(t, tr.Send(wirechat.Frame{Type: "typing"}))
	require.NoError(t, tr.Close())
}

func TestNewUsesConfigPath(t *testing.T) {
	cfg := wirechat.DefaultConfig()
	cfg.URL = "http://chat.local"
	cfg.Path = "/rt/"
	d := New(cfg, nil)
	require.Equal(t, "http://chat.local", d.URL)
	require.Equal(t, "/rt/", d.Path)
	require.NotNil(t, d.Logger)
}
