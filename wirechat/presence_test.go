package wirechat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceOnlineThenOffline(t *testing.T) {
	b := NewEventBus(nil)
	p := NewPresenceTracker(b)
	p.Attach()

	b.Publish(EventOnlineStatus, OnlineStatusEvent{UserID: "u1", IsOnline: true})
	require.True(t, p.IsUserOnline("u1"))
	b.Publish(EventOnlineStatus, OnlineStatusEvent{UserID: "u1", IsOnline: false})
	require.False(t, p.IsUserOnline("u1"))
}

func TestPresencePublishesOnlyChanges(t *testing.T) {
	b := NewEventBus(nil)
	p := NewPresenceTracker(b)
	p.Attach()
	var changes []PresenceChange
	SubscribeTyped(b, EventPresenceChanged, func(c PresenceChange) { changes = append(changes, c) })

	p.Apply(OnlineStatusEvent{UserID: "u1", IsOnline: true})
	p.Apply(OnlineStatusEvent{UserID: "u1", IsOnline: true})
	p.Apply(OnlineStatusEvent{UserID: "u2", IsOnline: false})
	p.Apply(OnlineStatusEvent{UserID: "u1", IsOnline: false})

	require.Equal(t, []PresenceChange{
		{UserID: "u1", IsOnline: true},
		{UserID: "u1", IsOnline: false},
	}, changes)
}

func TestPresenceOnlineUsersSortedAndReset(t *testing.T) {
	p := NewPresenceTracker(NewEventBus(nil))
	p.Apply(OnlineStatusEvent{UserID: "zoe", IsOnline: true})
	p.Apply(OnlineStatusEvent{UserID: "al", IsOnline: true})
	p.Apply(OnlineStatusEvent{IsOnline: true})
	require.Equal(t, []string{"al", "zoe"}, p.OnlineUsers())

	p.Reset()
	require.Empty(t, p.OnlineUsers())
}

// Without sequence numbers a stale online event after a newer offline one
// wins. This pins the documented behaviour.
func TestPresenceLastEventWins(t *testing.T) {
	p := NewPresenceTracker(NewEventBus(nil))
	p.Apply(OnlineStatusEvent{UserID: "u1", IsOnline: false})
	p.Apply(OnlineStatusEvent{UserID: "u1", IsOnline: true})
	require.True(t, p.IsUserOnline("u1"))
}
