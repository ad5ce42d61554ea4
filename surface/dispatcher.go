package surface

import (
	"time"

	"go-midisurface/clock"
	"go-midisurface/debug"
	"go-midisurface/loop"
	"go-midisurface/midi"
)

// DefaultNoteDuration is the gap between note-on and note-off.
const DefaultNoteDuration = 100 * time.Millisecond

// Triggered is published after every fan-out.
type Triggered struct {
	Timestamp    time.Duration
	NoteCount    int
	ControlCount int
}

// noteKey identifies a sounding note; at most one note-off is armed per key.
type noteKey struct {
	channel uint8
	note    uint8
}

// StateSource exposes the clock layout the dispatcher gates on.
type StateSource interface {
	State() clock.State
}

// Dispatcher turns quarter-note pulses into MIDI for every enabled instance.
// Must be used on the loop.
type Dispatcher struct {
	sched    loop.Scheduler
	port     midi.Port
	registry *Registry
	clock    StateSource
	duration time.Duration

	noteOffs  map[noteKey]loop.Timer
	triggered loop.Listeners[Triggered]
}

// NewDispatcher wires a dispatcher to its registry and installs the
// registry's release hook.
func NewDispatcher(sched loop.Scheduler, port midi.Port, registry *Registry, src StateSource) *Dispatcher {
	d := &Dispatcher{
		sched:    sched,
		port:     port,
		registry: registry,
		clock:    src,
		duration: DefaultNoteDuration,
		noteOffs: make(map[noteKey]loop.Timer),
	}
	registry.SetReleaseHook(d.releaseNote)
	return d
}

// SetNoteDuration changes the note-on to note-off gap for future triggers
func (d *Dispatcher) SetNoteDuration(dur time.Duration) {
	if dur <= 0 {
		debug.Warn("dispatch", "note duration %v ignored", dur)
		return
	}
	d.duration = dur
}

// OnTriggered registers f to be called after every fan-out
func (d *Dispatcher) OnTriggered(f func(Triggered)) (remove func()) {
	return d.triggered.Add(f)
}

// OnPulse fires on quarter-note boundaries only, whatever the display subdivision.
func (d *Dispatcher) OnPulse(p clock.Pulse) {
	perQuarter := clock.SubdivisionsPerBeat(d.clock.State().Subdivision)
	if (p.Subdivision-1)%perQuarter != 0 {
		return
	}
	d.fire(p.Timestamp)
}

// ManualTrigger runs the same fan-out outside the pulse stream.
func (d *Dispatcher) ManualTrigger() {
	d.fire(d.sched.Now())
}

func (d *Dispatcher) fire(ts time.Duration) {
	notes, controls := d.registry.ListEnabled()
	for _, n := range notes {
		d.PlayNote(n.Note, n.Velocity, n.Channel, d.duration)
	}
	for _, c := range controls {
		d.SendControl(c.Controller, c.Value, c.Channel)
	}
	debug.Log("dispatch", "fired notes=%d controls=%d", len(notes), len(controls))
	d.triggered.Emit(Triggered{Timestamp: ts, NoteCount: len(notes), ControlCount: len(controls)})
}

// PlayNote sends note-on now and note-off after duration. A pending note-off
// for the same channel and note is canceled, so a retrigger restarts the note
// instead of being cut short by the earlier note-off.
func (d *Dispatcher) PlayNote(note, velocity, channel uint8, duration time.Duration) {
	key := noteKey{channel: channel, note: note}

	if err := d.port.SendNoteOn(note, velocity, channel); err != nil {
		debug.Warn("dispatch", "note-on ch=%d note=%d: %v", channel, note, err)
	}

	if t, ok := d.noteOffs[key]; ok {
		t.Stop()
	}

	var t loop.Timer
	t = d.sched.AfterFunc(duration, func() {
		// only clear the slot if it still holds this timer
		if d.noteOffs[key] == t {
			delete(d.noteOffs, key)
		}
		d.sendNoteOff(key)
	})
	d.noteOffs[key] = t
}

// SendControl sends one control change. No bookkeeping.
func (d *Dispatcher) SendControl(controller, value, channel uint8) {
	if err := d.port.SendControlChange(controller, value, channel); err != nil {
		debug.Warn("dispatch", "cc ch=%d cc=%d: %v", channel, controller, err)
	}
}

// Sounding returns how many notes have a pending note-off
func (d *Dispatcher) Sounding() int {
	return len(d.noteOffs)
}

// AllNotesOff sends note-off for every sounding note and cancels their timers
func (d *Dispatcher) AllNotesOff() {
	for key, t := range d.noteOffs {
		t.Stop()
		delete(d.noteOffs, key)
		d.sendNoteOff(key)
	}
}

// releaseNote is the registry hook: a sounding note is cut immediately.
func (d *Dispatcher) releaseNote(n NoteInstance) {
	key := noteKey{channel: n.Channel, note: n.Note}
	t, ok := d.noteOffs[key]
	if !ok {
		return
	}
	t.Stop()
	delete(d.noteOffs, key)
	d.sendNoteOff(key)
}

func (d *Dispatcher) sendNoteOff(key noteKey) {
	if err := d.port.SendNoteOff(key.note, key.channel); err != nil {
		debug.Warn("dispatch", "note-off ch=%d note=%d: %v", key.channel, key.note, err)
	}
}
