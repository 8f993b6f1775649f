package services

import (
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Task is a handle on a scheduled callback.
type Task interface {
	Cancel()
}

// Scheduler runs delayed and repeating callbacks on the event loop.
// A cancelled task never runs again, even if a tick was already queued.
type Scheduler interface {
	Clock
	After(d time.Duration, fn func()) Task
	Every(d time.Duration, fn func()) Task
}

type loopScheduler struct {
	exec Executor
}

func NewScheduler(exec Executor) Scheduler {
	return &loopScheduler{exec: exec}
}

func (s *loopScheduler) Now() time.Time {
	return time.Now()
}

type loopTask struct {
	cancelled atomic.Bool
	once      sync.Once
	stop      func()
}

func (t *loopTask) Cancel() {
	t.cancelled.Store(true)
	t.once.Do(t.stop)
}

func (t *loopTask) guard(fn func()) func() {
	return func() {
		if !t.cancelled.Load() {
			fn()
		}
	}
}

func (s *loopScheduler) After(d time.Duration, fn func()) Task {
	t := &loopTask{}
	timer := time.AfterFunc(d, func() {
		s.exec.Post(t.guard(fn))
	})
	t.stop = func() { timer.Stop() }
	return t
}

func (s *loopScheduler) Every(d time.Duration, fn func()) Task {
	t := &loopTask{}
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	t.stop = func() { close(done) }

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.exec.Post(t.guard(fn))
			}
		}
	}()
	return t
}
