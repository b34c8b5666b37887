package wirechat

import (
	"fmt"
	"sync"
)

// Token identifies a subscription. The zero Token is never issued.
type Token uint64

// EventHandler receives the payload of a published event.
type EventHandler func(payload any)

type subscription struct {
	token Token
	fn    EventHandler
}

// EventBus is an in-process publish/subscribe registry.
//
// Subscriber slices are copy-on-write: Publish takes the slice that is current
// when it is called and runs it to completion, so subscribe and unsubscribe
// calls made from inside a handler only affect later publishes.
type EventBus struct {
	logger Logger

	mu     sync.Mutex
	next   Token
	subs   map[string][]subscription
	events map[Token]string
}

// NewEventBus creates an empty bus. A nil logger discards logs.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]subscription),
		events: make(map[Token]string),
	}
}

// Subscribe registers fn for event and returns its token.
func (b *EventBus) Subscribe(event string, fn EventHandler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	tok := b.next
	cur := b.subs[event]
	b.subs[event] = append(cur[:len(cur):len(cur)], subscription{token: tok, fn: fn})
	b.events[tok] = event
	return tok
}

// Unsubscribe removes the subscription. It reports whether tok was live.
func (b *EventBus) Unsubscribe(tok Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	event, ok := b.events[tok]
	if !ok {
		return false
	}
	delete(b.events, tok)
	cur := b.subs[event]
	kept := make([]subscription, 0, len(cur))
	for _, s := range cur {
		if s.token != tok {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, event)
	} else {
		b.subs[event] = kept
	}
	return true
}

// Publish delivers payload to the current subscribers of event in
// subscription order and returns how many handlers ran. A panicking handler
// is logged and does not stop the others.
func (b *EventBus) Publish(event string, payload any) int {
	b.mu.Lock()
	snapshot := b.subs[event]
	b.mu.Unlock()

	for _, s := range snapshot {
		b.invoke(event, s, payload)
	}
	return len(snapshot)
}

func (b *EventBus) invoke(event string, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", map[string]any{
				"event": event,
				"token": uint64(s.token),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	s.fn(payload)
}

// Count returns the number of subscribers for event.
func (b *EventBus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

// Reset drops every subscription.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
	b.events = make(map[Token]string)
}

// SubscribeTyped registers fn for event, ignoring payloads that are not a T.
func SubscribeTyped[T any](b *EventBus, event string, fn func(T)) Token {
	return b.Subscribe(event, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}
