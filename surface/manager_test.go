package surface

import (
	"testing"
	"time"

	"go-midisurface/clock"
	"go-midisurface/config"
	"go-midisurface/loop"
	"go-midisurface/midi"
)

// one MIDI clock at 120 BPM
const tick120 = 20833333 * time.Nanosecond

func newTestManager(cfg *config.Config) (*loop.Fake, *recordPort, *Manager) {
	f := loop.NewFake()
	port := &recordPort{f: f}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return f, port, New(f, port, cfg)
}

func TestManagerTwoSecondsAt120(t *testing.T) {
	f, port, m := newTestManager(nil)
	m.CreateNote(60, 100)

	m.Play()
	f.Advance(2000 * time.Millisecond)

	ons := port.of("on")
	if len(ons) != 4 {
		t.Fatalf("expected 4 quarter-note triggers in 2s, got %d", len(ons))
	}
	for i, want := range []time.Duration{500, 1000, 1500, 2000} {
		if ons[i].at != want*time.Millisecond {
			t.Errorf("trigger %d at %v, want %vms", i, ons[i].at, want)
		}
	}
	s := m.Status()
	if s.State.CurrentBar != 2 || s.State.CurrentBeat != 1 {
		t.Fatalf("state = %d.%d, want 2.1", s.State.CurrentBar, s.State.CurrentBeat)
	}
	if s.Triggers != 4 || s.LastTrigger.NoteCount != 1 {
		t.Fatalf("triggers=%d last=%+v", s.Triggers, s.LastTrigger)
	}
	select {
	case <-m.UpdateChan:
	default:
		t.Fatal("no update notification")
	}
}

func TestManagerStopSilencesClock(t *testing.T) {
	f, port, m := newTestManager(nil)
	m.CreateNote(60, 100)
	m.TogglePlay()
	f.Advance(600 * time.Millisecond)
	m.TogglePlay()
	f.Advance(5 * time.Second)

	if n := len(port.of("on")); n != 1 {
		t.Fatalf("expected 1 trigger before stop, got %d", n)
	}
	if m.Status().State.IsRunning {
		t.Fatal("still running after toggle")
	}
}

func TestManagerExternalClock(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tempo.Source = string(clock.SourceExternal)
	f, port, m := newTestManager(cfg)
	m.CreateControl(1, 64)

	m.HandleMessage([]byte{midi.Start})
	for i := 0; i < 5*clock.TicksPerQuarter; i++ {
		f.Advance(tick120)
		m.HandleMessage([]byte{midi.Clock})
	}

	if n := len(port.of("cc")); n != 5 {
		t.Fatalf("expected 5 triggers from 5 quarters, got %d", n)
	}
	s := m.Status()
	if s.State.CurrentBar != 2 || s.State.CurrentBeat != 2 {
		t.Fatalf("state = %d.%d, want 2.2", s.State.CurrentBar, s.State.CurrentBeat)
	}
	if s.External.BPM != 120 || !s.External.IsReceiving {
		t.Fatalf("estimate = %+v", s.External)
	}

	m.HandleMessage([]byte{midi.Stop})
	if m.Status().State.IsRunning {
		t.Fatal("external stop did not stop the clock")
	}
}

func TestManagerFollowsExternalStart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tempo.SyncToExternalClock = true
	_, _, m := newTestManager(cfg)

	m.HandleMessage([]byte{midi.Start})
	s := m.Status()
	if s.Tempo.Source != clock.SourceExternal || !s.State.IsRunning {
		t.Fatalf("source=%s running=%v", s.Tempo.Source, s.State.IsRunning)
	}
}

func TestManagerIgnoresExternalStartOnInternal(t *testing.T) {
	_, _, m := newTestManager(nil)
	m.HandleMessage([]byte{midi.Start})
	m.HandleMessage([]byte{0xE0, 0, 64})
	s := m.Status()
	if s.Tempo.Source != clock.SourceInternal || s.State.IsRunning {
		t.Fatalf("source=%s running=%v", s.Tempo.Source, s.State.IsRunning)
	}
}

func TestManagerDeleteWhileSounding(t *testing.T) {
	f, port, m := newTestManager(nil)
	id := m.CreateNote(60, 100)
	m.ManualTrigger()
	f.Advance(20 * time.Millisecond)

	m.Delete(id)
	offs := port.of("off")
	if len(offs) != 1 || offs[0].at != 20*time.Millisecond {
		t.Fatalf("offs = %+v", offs)
	}
	if m.Status().Sounding != 0 {
		t.Fatal("note still sounding after delete")
	}
}

func TestManagerExportRestore(t *testing.T) {
	_, _, m := newTestManager(nil)
	m.SetTempo(140)
	m.CycleSubdivision()
	m.NudgeBeatsPerBar(-1)
	id := m.CreateNote(36, 120)
	m.ToggleEnabled(id)
	m.CreateControl(74, 10)

	cfg := config.DefaultConfig()
	m.Export(cfg)
	if cfg.Tempo.BPM != 140 || cfg.Clock.Subdivision != 32 || cfg.Clock.BeatsPerBar != 3 {
		t.Fatalf("exported %+v %+v", cfg.Tempo, cfg.Clock)
	}
	if len(cfg.Notes) != 1 || cfg.Notes[0].Enabled || len(cfg.Controls) != 1 {
		t.Fatalf("exported instances %+v %+v", cfg.Notes, cfg.Controls)
	}

	_, _, m2 := newTestManager(cfg)
	s := m2.Status()
	if s.Tempo.BPM != 140 || s.State.Subdivision != 32 || s.State.BeatsPerBar != 3 {
		t.Fatalf("restored tempo=%+v state=%+v", s.Tempo, s.State)
	}
	if len(s.Instances) != 2 || s.Instances[0].ID() != id {
		t.Fatalf("restored instances %+v", s.Instances)
	}
}

func TestManagerAdjustInstance(t *testing.T) {
	_, _, m := newTestManager(nil)
	n := m.CreateNote(60, 100)
	c := m.CreateControl(7, 120)

	m.AdjustPrimary(n, 12)
	m.AdjustSecondary(n, 50)
	m.AdjustChannel(n, 2)
	m.AdjustPrimary(c, -1)
	m.AdjustSecondary(c, 20)
	m.AdjustChannel(c, -1)

	s := m.Status()
	note, ctrl := s.Instances[0].Note, s.Instances[1].Control
	if note.Note != 72 || note.Velocity != 127 || note.Channel != 2 {
		t.Fatalf("note = %+v", note)
	}
	if ctrl.Controller != 6 || ctrl.Value != 127 || ctrl.Channel != 0 {
		t.Fatalf("control = %+v", ctrl)
	}
}

func TestManagerSendClockFollowsTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Clock.SendClock = true
	f, port, m := newTestManager(cfg)

	m.Play()
	f.Advance(500 * time.Millisecond)
	m.Stop()

	if len(port.of("start")) != 1 || len(port.of("stop")) != 1 {
		t.Fatalf("transport messages = %+v", port.msgs)
	}
	if n := len(port.of("clock")); n != 25 {
		t.Fatalf("clocks = %d, want 25", n)
	}
}

func TestManagerCloseCancelsTimers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Clock.SendClock = true
	f, port, m := newTestManager(cfg)
	m.CreateNote(60, 100)

	m.Play()
	f.Advance(500 * time.Millisecond)
	m.Close()

	if f.Pending() != 0 {
		t.Fatalf("%d timers armed after close", f.Pending())
	}
	if len(port.of("off")) != 1 {
		t.Fatalf("sounding note not released on close: %+v", port.of("off"))
	}
}

// countingOpener hands out inputs that record how often they are opened and closed
type countingOpener struct {
	opened, closed int
	handler        func(raw []byte)
}

func (o *countingOpener) open(name string, handler func(raw []byte)) (*midi.Input, error) {
	o.opened++
	o.handler = handler
	return midi.NewInputFunc(name, func() { o.closed++ }), nil
}

func TestManagerInputLifecycle(t *testing.T) {
	_, _, m := newTestManager(nil)
	op := &countingOpener{}
	m.SetInputOpener(op.open)

	if err := m.OpenInput("Keystep"); err != nil {
		t.Fatal(err)
	}
	if err := m.OpenInput("Keystep"); err != nil {
		t.Fatal(err)
	}
	if op.opened != 1 || op.closed != 0 {
		t.Fatalf("reopening the open port: opened=%d closed=%d", op.opened, op.closed)
	}
	if s := m.Status(); !s.InputOpen || s.InputPort != "Keystep" {
		t.Fatalf("status = open %v port %q", s.InputOpen, s.InputPort)
	}

	m.ReleaseInput("Other")
	if op.closed != 0 {
		t.Fatal("releasing another port closed the input")
	}

	m.ReleaseInput("Keystep")
	if op.closed != 1 {
		t.Fatalf("closed = %d, want 1", op.closed)
	}
	if s := m.Status(); s.InputOpen || s.InputPort != "Keystep" {
		t.Fatalf("after release: open %v port %q, want closed but configured", s.InputOpen, s.InputPort)
	}

	if err := m.OpenInput("Keystep"); err != nil {
		t.Fatal(err)
	}
	if op.opened != 2 || !m.Status().InputOpen {
		t.Fatalf("expected reopen after release, opened=%d", op.opened)
	}

	m.Close()
	if op.closed != 2 || m.Status().InputOpen {
		t.Fatalf("close should release the input, closed=%d", op.closed)
	}
}

func TestManagerInputFeedsClock(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tempo.Source = string(clock.SourceExternal)
	_, _, m := newTestManager(cfg)
	op := &countingOpener{}
	m.SetInputOpener(op.open)
	if err := m.OpenInput("Keystep"); err != nil {
		t.Fatal(err)
	}

	op.handler([]byte{0xFA})
	if !m.Status().State.IsRunning {
		t.Fatal("start from the input should run the external clock")
	}
	op.handler([]byte{0xFC})
	if m.Status().State.IsRunning {
		t.Fatal("stop from the input should halt the clock")
	}
}
