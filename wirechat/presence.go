package wirechat

import (
	"sort"
	"sync"
)

// PresenceTracker keeps the set of users believed online, built only from
// online_status events. Ordering is last-event-wins: frames carry no sequence
// numbers, so a reordered stale event can regress a user's state.
type PresenceTracker struct {
	bus *EventBus

	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresenceTracker creates a tracker publishing changes on bus.
func NewPresenceTracker(bus *EventBus) *PresenceTracker {
	return &PresenceTracker{bus: bus, online: make(map[string]struct{})}
}

// Attach subscribes the tracker to online_status.
func (p *PresenceTracker) Attach() Token {
	return SubscribeTyped(p.bus, EventOnlineStatus, p.Apply)
}

// Apply records ev and publishes presence_changed if membership changed.
func (p *PresenceTracker) Apply(ev OnlineStatusEvent) {
	if ev.UserID == "" {
		return
	}
	p.mu.Lock()
	_, was := p.online[ev.UserID]
	if ev.IsOnline {
		p.online[ev.UserID] = struct{}{}
	} else {
		delete(p.online, ev.UserID)
	}
	p.mu.Unlock()

	if was != ev.IsOnline {
		p.bus.Publish(EventPresenceChanged, PresenceChange{UserID: ev.UserID, IsOnline: ev.IsOnline})
	}
}

// IsUserOnline reports whether id is in the online set.
func (p *PresenceTracker) IsUserOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[id]
	return ok
}

// OnlineUsers returns the online set, sorted.
func (p *PresenceTracker) OnlineUsers() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Reset forgets everyone.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{})
}
