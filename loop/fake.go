package loop

import (
	"sort"
	"time"
)

// Fake is a virtual-time Queue for tests. Nothing runs until Advance is called.
type Fake struct {
	now    time.Duration
	seq    int
	timers []*fakeTimer

	// Jitter, if set, adds extra latency to every timer scheduled from now on.
	Jitter func() time.Duration
}

// NewFake returns a Fake starting at time zero.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Now() time.Duration {
	return f.now
}

// Post runs fn immediately; the caller is already on the only goroutine.
func (f *Fake) Post(fn func()) {
	fn()
}

func (f *Fake) Do(fn func()) {
	fn()
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	if f.Jitter != nil {
		d += f.Jitter()
	}
	f.seq++
	t := &fakeTimer{at: f.now + d, seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing due timers in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.AdvanceTo(f.now + d)
}

// AdvanceTo moves virtual time to target, firing due timers in deadline order.
// Timers scheduled by callbacks fire too if they fall due before target.
func (f *Fake) AdvanceTo(target time.Duration) {
	for {
		next := f.nextDue(target)
		if next == nil {
			break
		}
		f.now = next.at
		next.stopped = true
		next.fn()
	}
	if target > f.now {
		f.now = target
	}
}

// Pending returns how many timers are still armed.
func (f *Fake) Pending() int {
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (f *Fake) nextDue(target time.Duration) *fakeTimer {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live

	sort.Slice(f.timers, func(i, j int) bool {
		if f.timers[i].at != f.timers[j].at {
			return f.timers[i].at < f.timers[j].at
		}
		return f.timers[i].seq < f.timers[j].seq
	})
	if len(f.timers) == 0 || f.timers[0].at > target {
		return nil
	}
	return f.timers[0]
}

type fakeTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
