// Package loop runs every timer callback and external event on one goroutine.
//
// Clock ticks, note-off timers, and the external clock watchdog all share a
// single queue, so they never run concurrently and need no locking. A timer
// canceled from the loop goroutine is guaranteed never to run, even if its
// deadline already passed and the callback is waiting in the queue.
package loop

import (
	"context"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback. Returns false if it already ran or was stopped.
	Stop() bool
}

// Scheduler provides monotonic time and deferred callbacks.
type Scheduler interface {
	// Now returns monotonic time since the scheduler was created.
	Now() time.Duration
	// AfterFunc runs f on the loop after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// Queue is a Scheduler that also accepts work from other goroutines.
type Queue interface {
	Scheduler
	// Post enqueues f without waiting.
	Post(f func())
	// Do runs f on the loop and waits for it to finish.
	// Must not be called from the loop goroutine.
	Do(f func())
}

const queueSize = 256

// EventLoop is the production Queue, backed by wall-clock timers.
type EventLoop struct {
	start time.Time
	funcs chan func()
	done  chan struct{}
}

// New creates an event loop. Call Run to start processing.
func New() *EventLoop {
	return &EventLoop{
		start: time.Now(),
		funcs: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes callbacks until ctx is canceled (blocking - run in goroutine)
func (l *EventLoop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.funcs:
			f()
		}
	}
}

func (l *EventLoop) Now() time.Duration {
	return time.Since(l.start)
}

func (l *EventLoop) Post(f func()) {
	select {
	case l.funcs <- f:
	case <-l.done:
	}
}

func (l *EventLoop) Do(f func()) {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

func (l *EventLoop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.wall = time.AfterFunc(d, func() {
		l.Post(func() {
			// stopped is only touched on the loop goroutine
			if t.stopped {
				return
			}
			t.stopped = true
			f()
		})
	})
	return t
}

type loopTimer struct {
	wall    *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.wall.Stop()
	return true
}
