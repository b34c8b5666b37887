package wirechat

import (
	"sync"
	"time"
)

// Clock provides a testable time source.
type Clock interface {
	Now() time.Time
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	Clock
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler is the production Scheduler backed by the time package.
type RealScheduler struct{}

// Now implements Clock.
func (RealScheduler) Now() time.Time { return time.Now() }

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type taskKey struct {
	epoch uint64
	name  string
}

type task struct {
	id    uint64
	timer Timer
}

// taskArena owns every pending timer of a client. Tasks are keyed by
// (epoch, name): scheduling a name again replaces the pending task, and a
// task only runs if its epoch is still the arena epoch when it fires.
type taskArena struct {
	sched Scheduler

	mu    sync.Mutex
	epoch uint64
	seq   uint64
	tasks map[taskKey]*task
}

func newTaskArena(sched Scheduler) *taskArena {
	return &taskArena{sched: sched, tasks: make(map[taskKey]*task)}
}

// Schedule arms fn to run after d under (epoch, name), replacing any pending
// task with the same key. It returns false without scheduling if epoch is
// stale.
func (a *taskArena) Schedule(epoch uint64, name string, d time.Duration, fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if epoch != a.epoch {
		return false
	}
	key := taskKey{epoch: epoch, name: name}
	if prev, ok := a.tasks[key]; ok {
		prev.timer.Stop()
	}
	a.seq++
	t := &task{id: a.seq}
	a.tasks[key] = t
	id := t.id
	t.timer = a.sched.AfterFunc(d, func() { a.fire(key, id, fn) })
	return true
}

func (a *taskArena) fire(key taskKey, id uint64, fn func()) {
	a.mu.Lock()
	t, ok := a.tasks[key]
	if !ok || t.id != id || key.epoch != a.epoch {
		a.mu.Unlock()
		return
	}
	delete(a.tasks, key)
	a.mu.Unlock()
	fn()
}

// Cancel stops the task under (epoch, name). It reports whether one was pending.
func (a *taskArena) Cancel(epoch uint64, name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := taskKey{epoch: epoch, name: name}
	t, ok := a.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(a.tasks, key)
	return true
}

// Pending reports whether a task is armed under (epoch, name).
func (a *taskArena) Pending(epoch uint64, name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tasks[taskKey{epoch: epoch, name: name}]
	return ok
}

// Len returns the number of pending tasks.
func (a *taskArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

// Reset stops every pending task in one pass and moves the arena to epoch.
// It returns how many tasks were cancelled.
func (a *taskArena) Reset(epoch uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.tasks)
	for _, t := range a.tasks {
		t.timer.Stop()
	}
	a.tasks = make(map[taskKey]*task)
	a.epoch = epoch
	return n
}
