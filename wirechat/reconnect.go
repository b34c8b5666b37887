package wirechat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	handshakeTask = "handshake"
	reconnectTask = "reconnect"
)

// reconnectBackoff yields the delay before each reconnect attempt:
// min(base * 2^(attempt-1), max), plus optional jitter.
type reconnectBackoff struct {
	b *backoff.ExponentialBackOff
}

func newReconnectBackoff(cfg Config) *reconnectBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.MaxInterval = cfg.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = cfg.ReconnectJitter
	b.Reset()
	return &reconnectBackoff{b: b}
}

// Next returns the delay for the next attempt.
func (r *reconnectBackoff) Next() time.Duration {
	return r.b.NextBackOff()
}

// Reset restarts the schedule at the base delay.
func (r *reconnectBackoff) Reset() {
	r.b.Reset()
}

// ReconnectDelays returns the schedule cfg produces for attempts 1..MaxReconnectAttempts.
func ReconnectDelays(cfg Config) []time.Duration {
	r := newReconnectBackoff(cfg)
	out := make([]time.Duration, 0, cfg.MaxReconnectAttempts)
	for i := 0; i < cfg.MaxReconnectAttempts; i++ {
		out = append(out, r.Next())
	}
	return out
}

// handleTransportLoss moves a connected session into Reconnecting.
func (c *Client) handleTransportLoss(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.session.ReconnectAttempt = 0
	c.backoff.Reset()
	epoch := c.epoch
	userID := c.session.UserID
	old := c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	lost := WrapError(ErrorTransportLost, "transport lost", cause)
	c.logger.Warn("connection lost", map[string]any{"user": userID, "error": errString(cause)})
	c.publishState(old, StateReconnecting, lost)
	c.bus.Publish(EventConnection, ConnectionEvent{UserID: userID, Reason: errString(cause)})
	c.scheduleReconnect(epoch)
}

// scheduleReconnect arms the next attempt or gives up.
func (c *Client) scheduleReconnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	if c.session.ReconnectAttempt >= c.cfg.MaxReconnectAttempts {
		attempts := c.session.ReconnectAttempt
		old := c.setStateLocked(StateFailed)
		c.mu.Unlock()

		err := WrapError(ErrorMaxReconnectAttempts, "reconnect attempts exhausted", nil)
		c.logger.Error("reconnect failed", map[string]any{"attempts": attempts})
		c.publishState(old, StateFailed, err)
		c.bus.Publish(EventConnectionFailed, ConnectionFailedEvent{Attempts: attempts, Err: err})
		return
	}
	c.session.ReconnectAttempt++
	attempt := c.session.ReconnectAttempt
	delay := c.backoff.Next()
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", map[string]any{"attempt": attempt, "delay": delay.String()})
	c.tasks.Schedule(epoch, reconnectTask, delay, func() { c.reconnect(epoch, attempt) })
}

// reconnect runs one attempt. The dial happens without the client lock held.
func (c *Client) reconnect(epoch uint64, attempt int) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	hs := Handshake{UserID: c.session.UserID, Token: c.session.Token}
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.bus.Publish(EventConnection, ConnectionEvent{Reconnecting: true, Attempt: attempt, UserID: hs.UserID})

	t, h, err := c.dial(ctx, epoch, hs)

	c.mu.Lock()
	c.dialCancel = nil
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
		c.scheduleReconnect(epoch)
		return
	}
	c.transport = t
	c.gen = h.gen
	c.session.ReconnectAttempt = 0
	c.backoff.Reset()
	old := c.setStateLocked(StateConnected)
	rejoin := c.joinedLocked()
	c.mu.Unlock()

	c.logger.Info("reconnected", map[string]any{"user": hs.UserID, "attempt": attempt})
	c.publishState(old, StateConnected, nil)
	c.bus.Publish(EventConnection, ConnectionEvent{Connected: true, Reconnected: true, Attempt: attempt, UserID: hs.UserID})
	for _, id := range rejoin {
		c.sendConversation(epoch, frameJoinConversation, id)
	}
	h.activate()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
