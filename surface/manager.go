package surface

import (
	"sync"
	"time"

	"go-midisurface/clock"
	"go-midisurface/config"
	"go-midisurface/debug"
	"go-midisurface/loop"
	"go-midisurface/midi"
)

// Status is a snapshot of everything the UI shows
type Status struct {
	Now         time.Duration
	State       clock.State
	Position    clock.Position
	Tempo       clock.TempoConfig
	External    clock.Estimate
	SendClock   bool
	Instances   []Instance
	Sounding    int
	LastTrigger Triggered
	Triggers    int
	OutputPort  string
	InputPort   string
	InputOpen   bool
	Channel     uint8
}

// InputOpener starts listening on a named input port
type InputOpener func(portName string, handler func(raw []byte)) (*midi.Input, error)

// Manager owns the clock, registry, and dispatcher and wires them to the
// MIDI port. Component state lives on the loop; exported methods hop onto it,
// so they are safe to call from the UI goroutine.
type Manager struct {
	q          loop.Queue
	port       midi.Port
	engine     *clock.Engine
	registry   *Registry
	dispatcher *Dispatcher
	clockOut   *ClockOut

	inputMu   sync.Mutex // guards input and openInput; not taken on the loop
	input     *midi.Input
	openInput InputOpener
	inputPort string
	channel   uint8

	lastTrigger Triggered
	triggers    int

	unsubscribe []func()

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// New builds every component from cfg. Nothing runs until Play.
func New(q loop.Queue, port midi.Port, cfg *config.Config) *Manager {
	tempo := clock.DefaultTempo()
	tempo.SetBPM(cfg.Tempo.BPM)
	if src := clock.Source(cfg.Tempo.Source); clock.ValidSource(src) {
		tempo.Source = src
	}
	tempo.SyncToExternalClock = cfg.Tempo.SyncToExternalClock

	m := &Manager{
		q:          q,
		port:       port,
		registry:   NewRegistry(),
		openInput:  midi.OpenInput,
		inputPort:  cfg.MIDI.InputPort,
		channel:    midi.ClampChannel(cfg.MIDI.Channel),
		UpdateChan: make(chan struct{}, 1),
	}

	q.Do(func() {
		m.engine = clock.NewEngine(q, clock.NewEstimator(q), tempo)
		m.engine.SetBeatsPerBar(cfg.Clock.BeatsPerBar)
		m.engine.SetSubdivision(cfg.Clock.Subdivision)

		m.dispatcher = NewDispatcher(q, port, m.registry, m.engine)
		if cfg.Clock.NoteMillis > 0 {
			m.dispatcher.SetNoteDuration(time.Duration(cfg.Clock.NoteMillis) * time.Millisecond)
		}
		m.registry.Restore(cfg.Notes, cfg.Controls)

		m.clockOut = NewClockOut(q, port, m.engine.Tempo().BPM)
		m.clockOut.SetEnabled(cfg.Clock.SendClock)

		m.unsubscribe = append(m.unsubscribe,
			m.engine.OnPulse(m.dispatcher.OnPulse),
			m.engine.OnStateChange(func(clock.State) { m.notifyUpdate() }),
			m.engine.Estimator().OnChange(func(clock.Estimate) { m.notifyUpdate() }),
			m.dispatcher.OnTriggered(func(t Triggered) {
				m.lastTrigger = t
				m.triggers++
				m.notifyUpdate()
			}),
		)
	})
	return m
}

// Export writes the current settings and registry back into cfg
func (m *Manager) Export(cfg *config.Config) {
	m.q.Do(func() {
		tempo := m.engine.Tempo()
		state := m.engine.State()
		cfg.Tempo = config.TempoConfig{
			BPM:                 tempo.BPM,
			Source:              string(tempo.Source),
			SyncToExternalClock: tempo.SyncToExternalClock,
		}
		cfg.Clock.BeatsPerBar = state.BeatsPerBar
		cfg.Clock.Subdivision = state.Subdivision
		cfg.Clock.SendClock = m.clockOut.Enabled()
		cfg.Clock.NoteMillis = int(m.dispatcher.duration / time.Millisecond)
		cfg.MIDI.InputPort = m.inputPort
		cfg.MIDI.Channel = int(m.channel)
		if out, ok := m.port.(*midi.Output); ok {
			cfg.MIDI.OutputPort = out.PortName()
		}
		cfg.Notes, cfg.Controls = m.registry.Snapshot()
	})
}

// Transport

// Play starts the clock
func (m *Manager) Play() {
	m.q.Do(func() {
		m.engine.Start()
		if m.engine.Tempo().Source == clock.SourceInternal {
			m.clockOut.Start()
		}
	})
}

// Stop stops the clock
func (m *Manager) Stop() {
	m.q.Do(func() {
		m.engine.Stop()
		m.clockOut.Stop()
	})
}

// TogglePlay starts or stops the clock
func (m *Manager) TogglePlay() {
	m.q.Do(func() {
		if m.engine.State().IsRunning {
			m.engine.Stop()
			m.clockOut.Stop()
			return
		}
		m.engine.Start()
		if m.engine.Tempo().Source == clock.SourceInternal {
			m.clockOut.Start()
		}
	})
}

// Reset stops and rewinds to 1.1
func (m *Manager) Reset() {
	m.q.Do(func() {
		m.engine.Reset()
		m.clockOut.Stop()
		m.clockOut.Rewind()
	})
}

// SetTempo sets the BPM (clamped to 60-200)
func (m *Manager) SetTempo(bpm int) {
	m.q.Do(func() {
		m.engine.SetBPM(bpm)
		m.clockOut.SetBPM(m.engine.Tempo().BPM)
	})
}

// NudgeTempo changes the BPM by delta
func (m *Manager) NudgeTempo(delta int) {
	m.q.Do(func() {
		bpm := m.engine.Tempo().BPM + delta
		m.engine.SetBPM(bpm)
		m.clockOut.SetBPM(m.engine.Tempo().BPM)
	})
}

// SetBeatsPerBar accepts 1-16
func (m *Manager) SetBeatsPerBar(n int) {
	m.q.Do(func() { m.engine.SetBeatsPerBar(n) })
}

// NudgeBeatsPerBar changes beats per bar by delta, ignoring out-of-range results
func (m *Manager) NudgeBeatsPerBar(delta int) {
	m.q.Do(func() { m.engine.SetBeatsPerBar(m.engine.State().BeatsPerBar + delta) })
}

// SetSubdivision accepts 4, 8, 16, 32
func (m *Manager) SetSubdivision(s int) {
	m.q.Do(func() { m.engine.SetSubdivision(s) })
}

// CycleSubdivision steps through 4, 8, 16, 32
func (m *Manager) CycleSubdivision() {
	m.q.Do(func() {
		m.engine.SetSubdivision(clock.NextSubdivision(m.engine.State().Subdivision))
	})
}

// SetSource switches between internal and external clock
func (m *Manager) SetSource(src clock.Source) {
	m.q.Do(func() { m.setSource(src) })
}

// ToggleSource flips between internal and external clock
func (m *Manager) ToggleSource() {
	m.q.Do(func() {
		if m.engine.Tempo().Source == clock.SourceInternal {
			m.setSource(clock.SourceExternal)
		} else {
			m.setSource(clock.SourceInternal)
		}
	})
}

func (m *Manager) setSource(src clock.Source) {
	m.engine.SetSource(src)
	m.clockOut.Stop()
	m.clockOut.Rewind()
}

// SetSyncToExternalClock makes an external Start switch the source to external
func (m *Manager) SetSyncToExternalClock(on bool) {
	m.q.Do(func() { m.engine.SetSyncToExternalClock(on) })
}

// SetSendClock turns 24 PPQ clock output on or off
func (m *Manager) SetSendClock(on bool) {
	m.q.Do(func() {
		m.clockOut.SetEnabled(on)
		if on && m.engine.State().IsRunning && m.engine.Tempo().Source == clock.SourceInternal {
			m.clockOut.Start()
		}
	})
}

// Instances

// CreateNote adds a note on the default channel and returns its id
func (m *Manager) CreateNote(note, velocity int) (id string) {
	m.q.Do(func() { id = m.registry.CreateNote(note, velocity, int(m.channel)) })
	m.notifyUpdate()
	return id
}

// CreateControl adds a control on the default channel and returns its id
func (m *Manager) CreateControl(controller, value int) (id string) {
	m.q.Do(func() { id = m.registry.CreateControl(controller, value, int(m.channel)) })
	m.notifyUpdate()
	return id
}

// Delete removes an instance, cutting its note if it is sounding
func (m *Manager) Delete(id string) {
	m.q.Do(func() { m.registry.Delete(id) })
	m.notifyUpdate()
}

// ToggleEnabled flips whether an instance takes part in triggers
func (m *Manager) ToggleEnabled(id string) {
	m.q.Do(func() {
		if inst, ok := m.registry.Get(id); ok {
			m.registry.SetEnabled(id, !inst.Enabled())
		}
	})
	m.notifyUpdate()
}

// AdjustPrimary nudges the note number or controller number
func (m *Manager) AdjustPrimary(id string, delta int) {
	m.q.Do(func() {
		inst, ok := m.registry.Get(id)
		if !ok {
			return
		}
		if inst.Kind == KindNote {
			m.registry.SetNote(id, int(inst.Note.Note)+delta)
		} else {
			m.registry.SetController(id, int(inst.Control.Controller)+delta)
		}
	})
	m.notifyUpdate()
}

// AdjustSecondary nudges the velocity or control value
func (m *Manager) AdjustSecondary(id string, delta int) {
	m.q.Do(func() {
		inst, ok := m.registry.Get(id)
		if !ok {
			return
		}
		if inst.Kind == KindNote {
			m.registry.SetVelocity(id, int(inst.Note.Velocity)+delta)
		} else {
			m.registry.SetValue(id, int(inst.Control.Value)+delta)
		}
	})
	m.notifyUpdate()
}

// AdjustChannel nudges the channel of an instance
func (m *Manager) AdjustChannel(id string, delta int) {
	m.q.Do(func() {
		inst, ok := m.registry.Get(id)
		if !ok {
			return
		}
		ch := 0
		if inst.Kind == KindNote {
			ch = int(inst.Note.Channel)
		} else {
			ch = int(inst.Control.Channel)
		}
		m.registry.SetChannel(id, ch+delta)
	})
	m.notifyUpdate()
}

// ManualTrigger fires every enabled instance once, outside the clock
func (m *Manager) ManualTrigger() {
	m.q.Do(func() { m.dispatcher.ManualTrigger() })
}

// AllNotesOff releases every sounding note
func (m *Manager) AllNotesOff() {
	m.q.Do(func() { m.dispatcher.AllNotesOff() })
	m.notifyUpdate()
}

// MIDI input

// HandleMessage routes one raw inbound message. Safe from any goroutine.
func (m *Manager) HandleMessage(raw []byte) {
	m.q.Post(func() { m.handleMessage(raw) })
}

func (m *Manager) handleMessage(raw []byte) {
	ev, ok := midi.Parse(raw)
	if !ok {
		debug.LogEvery(32, "input", "unhandled message % X", raw)
		return
	}
	switch ev.Kind {
	case midi.KindClock:
		m.engine.HandleExternalTick()
	case midi.KindStart:
		tempo := m.engine.Tempo()
		if tempo.SyncToExternalClock && tempo.Source == clock.SourceInternal {
			debug.Log("input", "external start, following external clock")
			m.setSource(clock.SourceExternal)
		}
		m.engine.HandleExternalStart()
	case midi.KindContinue:
		m.engine.HandleExternalContinue()
	case midi.KindStop:
		m.engine.HandleExternalStop()
	default:
		debug.Log("input", "%s", ev)
	}
}

// SetInputOpener replaces how input ports are opened
func (m *Manager) SetInputOpener(f InputOpener) {
	m.inputMu.Lock()
	m.openInput = f
	m.inputMu.Unlock()
}

// OpenInput listens on portName, replacing any current input. An empty name
// just closes the current input. A port that is already open stays as it is.
func (m *Manager) OpenInput(portName string) error {
	m.inputMu.Lock()
	defer m.inputMu.Unlock()

	if m.input != nil && m.input.ID() == portName {
		return nil
	}
	m.closeInputLocked()
	m.q.Do(func() { m.inputPort = portName })
	if portName == "" {
		m.notifyUpdate()
		return nil
	}
	in, err := m.openInput(portName, m.HandleMessage)
	if err != nil {
		return err
	}
	m.input = in
	debug.Log("input", "listening on %s", portName)
	m.notifyUpdate()
	return nil
}

// ReleaseInput stops listening if portName is the open input. The port stays
// configured, so OpenInput picks it up again when it comes back.
func (m *Manager) ReleaseInput(portName string) {
	m.inputMu.Lock()
	defer m.inputMu.Unlock()

	if m.input == nil || m.input.ID() != portName {
		return
	}
	m.closeInputLocked()
	debug.Log("input", "released %s", portName)
	m.notifyUpdate()
}

func (m *Manager) closeInput() {
	m.inputMu.Lock()
	m.closeInputLocked()
	m.inputMu.Unlock()
}

func (m *Manager) closeInputLocked() {
	if m.input != nil {
		m.input.Close()
		m.input = nil
	}
}

// SetOutputPort switches the output port if the transport supports it
func (m *Manager) SetOutputPort(portName string) {
	m.q.Do(func() {
		m.dispatcher.AllNotesOff()
		if out, ok := m.port.(*midi.Output); ok {
			out.SetPort(portName)
		}
	})
	m.notifyUpdate()
}

// SetChannel sets the default channel for new instances
func (m *Manager) SetChannel(ch int) {
	m.q.Do(func() { m.channel = midi.ClampChannel(ch) })
}

// Status returns a snapshot for display
func (m *Manager) Status() (s Status) {
	m.q.Do(func() {
		s = Status{
			Now:         m.q.Now(),
			State:       m.engine.State(),
			Position:    m.engine.Position(),
			Tempo:       m.engine.Tempo(),
			External:    m.engine.Estimator().Snapshot(),
			SendClock:   m.clockOut.Enabled(),
			Instances:   m.registry.List(),
			Sounding:    m.dispatcher.Sounding(),
			LastTrigger: m.lastTrigger,
			Triggers:    m.triggers,
			InputPort:   m.inputPort,
			Channel:     m.channel,
		}
		if out, ok := m.port.(*midi.Output); ok {
			s.OutputPort = out.PortName()
		}
	})
	m.inputMu.Lock()
	s.InputOpen = m.input != nil
	m.inputMu.Unlock()
	return s
}

// Close stops the clock, releases sounding notes, and cancels every timer
func (m *Manager) Close() {
	m.closeInput()
	m.q.Do(func() {
		m.clockOut.Stop()
		m.engine.Close()
		m.dispatcher.AllNotesOff()
		for _, f := range m.unsubscribe {
			f()
		}
		m.unsubscribe = nil
	})
}

// notifyUpdate pokes the TUI without blocking
func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}
