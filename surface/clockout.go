package surface

import (
	"time"

	"go-midisurface/clock"
	"go-midisurface/debug"
	"go-midisurface/loop"
	"go-midisurface/midi"
)

// ClockOut mirrors the internal clock to the output as 24 PPQ MIDI clock.
// Like the engine, each firing derives the tick from elapsed time.
type ClockOut struct {
	sched   loop.Scheduler
	port    midi.Port
	bpm     int
	enabled bool

	running bool
	start   time.Duration
	paused  time.Duration
	last    int
	timer   loop.Timer
}

// NewClockOut creates a disabled clock output
func NewClockOut(sched loop.Scheduler, port midi.Port, bpm int) *ClockOut {
	return &ClockOut{sched: sched, port: port, bpm: bpm, last: -1}
}

// SetEnabled turns clock output on or off. Turning it off mid-run sends Stop.
func (c *ClockOut) SetEnabled(on bool) {
	if !on && c.running {
		c.Stop()
	}
	c.enabled = on
}

// Enabled reports whether clock output is on
func (c *ClockOut) Enabled() bool { return c.enabled }

// Start sends Start (or Continue when resuming) and the first tick
func (c *ClockOut) Start() {
	if !c.enabled || c.running {
		return
	}
	var err error
	if c.paused > 0 {
		err = c.port.SendContinue()
	} else {
		err = c.port.SendStart()
	}
	if err != nil {
		debug.Warn("clockout", "start: %v", err)
	}
	c.running = true
	c.start = c.sched.Now() - c.paused
	c.last = c.stepAt(c.paused) - 1
	c.tick()
}

// Stop sends Stop and cancels the tick chain
func (c *ClockOut) Stop() {
	c.cancel()
	if !c.running {
		return
	}
	c.running = false
	c.paused = c.sched.Now() - c.start
	if err := c.port.SendStop(); err != nil {
		debug.Warn("clockout", "stop: %v", err)
	}
}

// Rewind forgets the resume point so the next Start sends Start, not Continue
func (c *ClockOut) Rewind() {
	c.paused = 0
	c.last = -1
}

// SetBPM rescales the elapsed time so the tick count carries on smoothly
func (c *ClockOut) SetBPM(bpm int) {
	old := c.interval()
	c.bpm = bpm
	now := c.sched.Now()
	if c.running {
		c.start = now - clock.Rescale(now-c.start, old, c.interval())
		c.cancel()
		c.last = c.stepAt(now - c.start)
		c.schedule(now - c.start)
	} else {
		c.paused = clock.Rescale(c.paused, old, c.interval())
	}
}

func (c *ClockOut) interval() time.Duration {
	return clock.BeatInterval(c.bpm) / clock.TicksPerQuarter
}

func (c *ClockOut) stepAt(elapsed time.Duration) int {
	return clock.StepsAt(elapsed, c.interval())
}

func (c *ClockOut) tick() {
	c.timer = nil
	if !c.running {
		return
	}
	elapsed := c.sched.Now() - c.start
	if step := c.stepAt(elapsed); step > c.last {
		c.last = step
		if err := c.port.SendClock(); err != nil {
			debug.LogEvery(96, "clockout", "clock: %v", err)
		}
	}
	c.schedule(elapsed)
}

func (c *ClockOut) schedule(elapsed time.Duration) {
	interval := c.interval()
	d := interval - elapsed%interval
	c.timer = c.sched.AfterFunc(d, c.tick)
}

func (c *ClockOut) cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
