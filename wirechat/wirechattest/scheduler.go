// Package wirechattest provides deterministic doubles for testing code built
// on wirechat: a manually advanced scheduler and an in-memory dialer.
package wirechattest

import (
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
)

// Scheduler is a wirechat.Scheduler whose clock only moves on Advance.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*timer
}

type timer struct {
	s       *Scheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

// NewScheduler returns a scheduler starting at a fixed instant.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

// Now implements wirechat.Clock.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc implements wirechat.Scheduler.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) wirechat.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &timer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, running every timer that comes due
// in deadline order. Callbacks run on the calling goroutine and may schedule
// further timers, which also run if they fall inside the window.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.compactLocked()
			s.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(s.now) {
			s.now = next.at
		}
		s.mu.Unlock()
		next.fn()
	}
}

func (s *Scheduler) nextDueLocked(target time.Time) *timer {
	var best *timer
	for _, t := range s.timers {
		if t.stopped || t.fired || t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (s *Scheduler) compactLocked() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
}

// Pending returns how many timers are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
