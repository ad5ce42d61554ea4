package clock

import (
	"time"

	"go-midisurface/debug"
	"go-midisurface/loop"
)

// Engine owns the clock state machine. On the internal source it schedules
// its own pulses; on the external source it relays quarter notes counted by
// the Estimator. All methods must be called on the loop.
//
// Position on the internal source is recomputed from elapsed time on every
// firing, never incremented, so timer latency does not accumulate.
type Engine struct {
	sched loop.Scheduler
	est   *Estimator

	tempo TempoConfig
	state State
	pos   Position

	startTime  time.Duration
	pausedTime time.Duration
	lastStep   int // last step a pulse was emitted for
	timer      loop.Timer

	extQuarters int // quarter notes counted since the last external start

	pulses  loop.Listeners[Pulse]
	changes loop.Listeners[State]
}

// NewEngine creates a stopped engine at 1.1.1.
func NewEngine(sched loop.Scheduler, est *Estimator, tempo TempoConfig) *Engine {
	tempo.BPM = ClampBPM(tempo.BPM)
	if !ValidSource(tempo.Source) {
		tempo.Source = SourceInternal
	}
	tempo.IsRunning = false
	return &Engine{
		sched: sched,
		est:   est,
		tempo: tempo,
		state: NewState(),
		pos:   Position{Bar: 1, Beat: 1, Subdivision: 1},
	}
}

// OnPulse registers f to receive every pulse.
func (e *Engine) OnPulse(f func(Pulse)) (remove func()) {
	return e.pulses.Add(f)
}

// OnStateChange registers f to be called whenever State changes.
func (e *Engine) OnStateChange(f func(State)) (remove func()) {
	return e.changes.Add(f)
}

// State returns a copy of the clock state.
func (e *Engine) State() State { return e.state }

// Tempo returns a copy of the tempo config.
func (e *Engine) Tempo() TempoConfig { return e.tempo }

// Position returns the position of the last pulse.
func (e *Engine) Position() Position { return e.pos }

// Estimator returns the external clock estimator.
func (e *Engine) Estimator() *Estimator { return e.est }

// Start runs the clock. On the external source it only arms the engine and
// waits for ticks.
func (e *Engine) Start() {
	if e.state.IsRunning && e.tempo.Source == SourceInternal {
		return
	}
	if e.tempo.Source == SourceExternal {
		e.setRunning(true)
		debug.Log("clock", "armed for external clock")
		return
	}

	e.startTime = e.sched.Now() - e.pausedTime
	e.setRunning(true)
	e.reschedule()
	debug.Log("clock", "started bpm=%d paused=%v", e.tempo.BPM, e.pausedTime)
}

// Stop halts the clock and remembers the elapsed time for resume.
func (e *Engine) Stop() {
	e.cancelTimer()
	if !e.state.IsRunning {
		return
	}
	e.pausedTime = e.sched.Now() - e.startTime
	e.setRunning(false)
	debug.Log("clock", "stopped at %v", e.pausedTime)
}

// Reset stops the clock and rewinds to 1.1.1.
func (e *Engine) Reset() {
	e.Stop()
	e.pausedTime = 0
	e.lastStep = 0
	e.extQuarters = 0
	e.pos = Position{Bar: 1, Beat: 1, Subdivision: 1}
	e.setPosition(1, 1)
}

// SetBPM changes tempo without restarting: the pending pulse is replaced by
// one computed from the new timing and the current position is kept.
func (e *Engine) SetBPM(bpm int) {
	oldInterval := SubdivisionInterval(e.tempo.BPM, e.state.Subdivision)
	e.tempo.SetBPM(bpm)
	newInterval := SubdivisionInterval(e.tempo.BPM, e.state.Subdivision)
	if newInterval == oldInterval {
		return
	}

	now := e.sched.Now()
	if e.state.IsRunning && e.tempo.Source == SourceInternal {
		elapsed := Rescale(now-e.startTime, oldInterval, newInterval)
		e.startTime = now - elapsed
		e.reschedule()
	} else {
		e.pausedTime = Rescale(e.pausedTime, oldInterval, newInterval)
	}
	debug.Log("clock", "bpm=%d", e.tempo.BPM)
}

// SetBeatsPerBar accepts 1..16. Anything else is ignored. The current
// position is recomputed under the new bar length.
func (e *Engine) SetBeatsPerBar(n int) {
	if !ValidBeatsPerBar(n) {
		debug.Warn("clock", "beats per bar %d ignored", n)
		return
	}
	if n == e.state.BeatsPerBar {
		return
	}
	e.state.BeatsPerBar = n
	e.pos = e.layoutPosition()
	e.state.CurrentBar = e.pos.Bar
	e.state.CurrentBeat = e.pos.Beat
	e.changes.Emit(e.state)
}

// SetSubdivision accepts 4, 8, 16, or 32. Anything else is ignored.
func (e *Engine) SetSubdivision(s int) {
	if !ValidSubdivision(s) {
		debug.Warn("clock", "subdivision %d ignored", s)
		return
	}
	if s == e.state.Subdivision {
		return
	}
	e.state.Subdivision = s
	e.changes.Emit(e.state)
	e.reschedule()
}

// SetSource switches timebase. The clock is stopped first so no stale timer
// chain survives the switch.
func (e *Engine) SetSource(src Source) {
	if !ValidSource(src) {
		debug.Warn("clock", "unknown source %q ignored", src)
		return
	}
	if src == e.tempo.Source {
		return
	}
	e.Stop()
	e.tempo.Source = src
	e.changes.Emit(e.state)
	debug.Log("clock", "source=%s", src)
}

// SetSyncToExternalClock toggles following an external Start.
func (e *Engine) SetSyncToExternalClock(on bool) {
	e.tempo.SyncToExternalClock = on
}

// HandleExternalTick is called for every 0xF8 received.
func (e *Engine) HandleExternalTick() {
	boundary := e.est.OnTick()
	if !boundary || !e.state.IsRunning || e.tempo.Source != SourceExternal {
		return
	}

	// external gear is the master timebase; position is a quarter-note count
	e.extQuarters++
	e.pos = e.externalPosition()
	e.setPosition(e.pos.Bar, e.pos.Beat)
	e.pulses.Emit(Pulse{
		Timestamp:   e.sched.Now(),
		Bar:         e.pos.Bar,
		Beat:        e.pos.Beat,
		Subdivision: 1,
	})
}

// HandleExternalStart is called for 0xFA.
func (e *Engine) HandleExternalStart() {
	e.est.OnStart()
	if e.tempo.Source != SourceExternal {
		return
	}
	e.extQuarters = 0
	e.pos = Position{Bar: 1, Beat: 1, Subdivision: 1}
	e.setPosition(1, 1)
	e.startTime = e.sched.Now()
	e.setRunning(true)
}

// HandleExternalContinue is called for 0xFB. Counting resumes where it was.
func (e *Engine) HandleExternalContinue() {
	if e.tempo.Source != SourceExternal {
		return
	}
	e.setRunning(true)
}

// HandleExternalStop is called for 0xFC.
func (e *Engine) HandleExternalStop() {
	e.est.OnStop()
	if e.tempo.Source != SourceExternal || !e.state.IsRunning {
		return
	}
	e.pausedTime = e.sched.Now() - e.startTime
	e.setRunning(false)
}

// Close stops the clock and cancels every timer the engine owns.
func (e *Engine) Close() {
	e.Stop()
	e.est.Close()
}

func (e *Engine) tick() {
	e.timer = nil
	if !e.state.IsRunning || e.tempo.Source != SourceInternal {
		return
	}

	now := e.sched.Now()
	interval := SubdivisionInterval(e.tempo.BPM, e.state.Subdivision)
	elapsed := now - e.startTime
	step := StepsAt(elapsed, interval)

	if step > e.lastStep {
		e.lastStep = step
		e.pos = PositionAt(step, e.state.Subdivision, e.state.BeatsPerBar)
		e.setPosition(e.pos.Bar, e.pos.Beat)
		e.pulses.Emit(Pulse{
			Timestamp:   now,
			Bar:         e.pos.Bar,
			Beat:        e.pos.Beat,
			Subdivision: e.pos.Subdivision,
		})
	} else {
		debug.LogEvery(50, "clock", "early firing at step %d", step)
	}

	// a listener may have stopped or rescheduled the clock
	if e.timer != nil || !e.state.IsRunning || e.tempo.Source != SourceInternal {
		return
	}
	e.timer = e.sched.AfterFunc(NextDelay(elapsed, interval), e.tick)
}

// reschedule replaces any pending firing with one aligned to the next step
// boundary under the current timing.
func (e *Engine) reschedule() {
	e.cancelTimer()
	if !e.state.IsRunning || e.tempo.Source != SourceInternal {
		return
	}
	interval := SubdivisionInterval(e.tempo.BPM, e.state.Subdivision)
	elapsed := e.sched.Now() - e.startTime
	e.lastStep = StepsAt(elapsed, interval)
	e.timer = e.sched.AfterFunc(NextDelay(elapsed, interval), e.tick)
}

// layoutPosition is where the clock stands under the current bar layout.
func (e *Engine) layoutPosition() Position {
	if e.tempo.Source == SourceExternal {
		return e.externalPosition()
	}
	step := e.lastStep
	if !e.state.IsRunning {
		step = StepsAt(e.pausedTime, SubdivisionInterval(e.tempo.BPM, e.state.Subdivision))
	}
	return PositionAt(step, e.state.Subdivision, e.state.BeatsPerBar)
}

func (e *Engine) externalPosition() Position {
	bpb := e.state.BeatsPerBar
	return Position{
		Bar:         e.extQuarters/bpb + 1,
		Beat:        e.extQuarters%bpb + 1,
		Subdivision: 1,
	}
}

func (e *Engine) cancelTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) setRunning(on bool) {
	e.tempo.IsRunning = on
	if e.state.IsRunning == on {
		return
	}
	e.state.IsRunning = on
	e.changes.Emit(e.state)
}

func (e *Engine) setPosition(bar, beat int) {
	if e.state.CurrentBar == bar && e.state.CurrentBeat == beat {
		return
	}
	e.state.CurrentBar = bar
	e.state.CurrentBeat = beat
	e.changes.Emit(e.state)
}
