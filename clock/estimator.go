package clock

import (
	"math"
	"time"

	"go-midisurface/debug"
	"go-midisurface/loop"
)

// MIDI clock runs at 24 pulses per quarter note.
const TicksPerQuarter = 24

// WatchdogTimeout is how long without a tick before the clock counts as lost.
const WatchdogTimeout = 2000 * time.Millisecond

// Estimate is a snapshot of the external clock estimator.
type Estimate struct {
	BPM         int
	TickCount   int
	IsReceiving bool
}

// Estimator turns external clock ticks into a smoothed BPM and quarter-note
// boundaries. All methods must be called on the loop.
type Estimator struct {
	sched loop.Scheduler

	lastTick time.Duration
	hasLast  bool
	window   []time.Duration // FIFO of inter-tick intervals, at most TicksPerQuarter

	bpm       int
	tickCount int
	receiving bool

	watchdog loop.Timer
	changes  loop.Listeners[Estimate]
}

// NewEstimator creates an idle estimator.
func NewEstimator(sched loop.Scheduler) *Estimator {
	return &Estimator{
		sched:  sched,
		window: make([]time.Duration, 0, TicksPerQuarter),
	}
}

// OnTick records one external clock tick and reports whether it completed a
// quarter note.
func (e *Estimator) OnTick() (quarterBoundary bool) {
	now := e.sched.Now()
	before := e.Snapshot()

	if e.hasLast {
		if len(e.window) == TicksPerQuarter {
			copy(e.window, e.window[1:])
			e.window = e.window[:TicksPerQuarter-1]
		}
		e.window = append(e.window, now-e.lastTick)
	}
	e.lastTick = now
	e.hasLast = true

	// 24 ticks span 23 intervals: estimate once a full quarter note has been seen
	if len(e.window) >= TicksPerQuarter-1 {
		e.bpm = bpmFromWindow(e.window)
	}
	e.receiving = true

	e.tickCount++
	quarterBoundary = e.tickCount%TicksPerQuarter == 0

	e.armWatchdog()
	debug.LogEvery(96, "extclock", "tick count=%d bpm=%d", e.tickCount, e.bpm)

	if after := e.Snapshot(); after.BPM != before.BPM || after.IsReceiving != before.IsReceiving {
		e.changes.Emit(after)
	}
	return quarterBoundary
}

// OnStart restarts quarter-note counting. The BPM estimate is kept.
func (e *Estimator) OnStart() {
	e.tickCount = 0
}

// OnStop drops the estimate, the interval window and the watchdog.
func (e *Estimator) OnStop() {
	e.stopWatchdog()
	e.lost()
	e.clearWindow()
}

// Close cancels the watchdog.
func (e *Estimator) Close() {
	e.stopWatchdog()
}

// BPM returns the estimated tempo, or 0 when unknown.
func (e *Estimator) BPM() int { return e.bpm }

// IsReceiving reports whether ticks arrived within the watchdog window.
func (e *Estimator) IsReceiving() bool { return e.receiving }

// TickCount returns ticks seen since the last start.
func (e *Estimator) TickCount() int { return e.tickCount }

// Snapshot returns the current estimate.
func (e *Estimator) Snapshot() Estimate {
	return Estimate{BPM: e.bpm, TickCount: e.tickCount, IsReceiving: e.receiving}
}

// OnChange registers f to be called when BPM or the receiving flag changes.
func (e *Estimator) OnChange(f func(Estimate)) (remove func()) {
	return e.changes.Add(f)
}

func (e *Estimator) armWatchdog() {
	e.stopWatchdog()
	e.watchdog = e.sched.AfterFunc(WatchdogTimeout, func() {
		e.watchdog = nil
		debug.Warn("extclock", "no clock for %v, waiting for clock", WatchdogTimeout)
		e.lost()
		e.clearWindow()
	})
}

func (e *Estimator) stopWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

// clearWindow makes the next stream average from scratch.
func (e *Estimator) clearWindow() {
	e.window = e.window[:0]
	e.hasLast = false
}

func (e *Estimator) lost() {
	changed := e.receiving || e.bpm != 0
	e.receiving = false
	e.bpm = 0
	if changed {
		e.changes.Emit(e.Snapshot())
	}
}

func bpmFromWindow(window []time.Duration) int {
	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	avgMs := float64(sum) / float64(len(window)) / float64(time.Millisecond)
	if avgMs <= 0 {
		return 0
	}
	return int(math.Round(60000 / (avgMs * TicksPerQuarter)))
}
