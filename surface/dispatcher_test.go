package surface

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"go-midisurface/clock"
	"go-midisurface/loop"
)

// sent is one message seen by recordPort, stamped with virtual time
type sent struct {
	at   time.Duration
	kind string
	a, b uint8
	ch   uint8
}

type recordPort struct {
	f    *loop.Fake
	msgs []sent
	err  error
}

func (p *recordPort) add(kind string, a, b, ch uint8) error {
	p.msgs = append(p.msgs, sent{at: p.f.Now(), kind: kind, a: a, b: b, ch: ch})
	return p.err
}

func (p *recordPort) SendNoteOn(note, velocity, channel uint8) error {
	return p.add("on", note, velocity, channel)
}
func (p *recordPort) SendNoteOff(note, channel uint8) error { return p.add("off", note, 0, channel) }
func (p *recordPort) SendControlChange(controller, value, channel uint8) error {
	return p.add("cc", controller, value, channel)
}
func (p *recordPort) SendClock() error    { return p.add("clock", 0, 0, 0) }
func (p *recordPort) SendStart() error    { return p.add("start", 0, 0, 0) }
func (p *recordPort) SendContinue() error { return p.add("continue", 0, 0, 0) }
func (p *recordPort) SendStop() error     { return p.add("stop", 0, 0, 0) }

func (p *recordPort) of(kind string) []sent {
	var out []sent
	for _, m := range p.msgs {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixedState struct{ s clock.State }

func (f fixedState) State() clock.State { return f.s }

func newTestDispatcher(subdivision int) (*loop.Fake, *recordPort, *Registry, *Dispatcher) {
	f := loop.NewFake()
	port := &recordPort{f: f}
	reg := NewRegistry()
	st := clock.NewState()
	st.Subdivision = subdivision
	return f, port, reg, NewDispatcher(f, port, reg, fixedState{st})
}

func TestRetriggerReplacesPendingNoteOff(t *testing.T) {
	f, port, _, d := newTestDispatcher(16)

	d.PlayNote(60, 100, 0, 100*time.Millisecond)
	f.Advance(50 * time.Millisecond)
	d.PlayNote(60, 100, 0, 100*time.Millisecond)
	f.Advance(500 * time.Millisecond)

	ons := port.of("on")
	if len(ons) != 2 || ons[0].at != 0 || ons[1].at != 50*time.Millisecond {
		t.Fatalf("note-ons = %+v", ons)
	}
	offs := port.of("off")
	if len(offs) != 1 {
		t.Fatalf("expected exactly one note-off, got %+v", offs)
	}
	if offs[0].at != 150*time.Millisecond {
		t.Fatalf("note-off at %v, want 150ms", offs[0].at)
	}
	if d.Sounding() != 0 {
		t.Fatalf("sounding = %d after note-off", d.Sounding())
	}
}

func TestDifferentKeysKeepSeparateNoteOffs(t *testing.T) {
	f, port, _, d := newTestDispatcher(16)

	d.PlayNote(60, 100, 0, 100*time.Millisecond)
	d.PlayNote(60, 100, 1, 100*time.Millisecond)
	d.PlayNote(62, 100, 0, 100*time.Millisecond)
	if d.Sounding() != 3 {
		t.Fatalf("sounding = %d, want 3", d.Sounding())
	}
	f.Advance(100 * time.Millisecond)
	if n := len(port.of("off")); n != 3 {
		t.Fatalf("expected 3 note-offs, got %d", n)
	}
}

func TestOnPulseGatesToQuarterNotes(t *testing.T) {
	cases := []struct {
		subdivision int
		subs        []int
		want        int
	}{
		{16, []int{1, 2, 3, 4, 1, 2, 3, 4}, 2},
		{8, []int{1, 2, 1, 2}, 2},
		{4, []int{1, 1, 1}, 3},
		{32, []int{1, 2, 3, 4, 5, 6, 7, 8}, 1},
	}
	for _, c := range cases {
		_, _, reg, d := newTestDispatcher(c.subdivision)
		reg.CreateControl(1, 64, 0)
		fired := 0
		d.OnTriggered(func(Triggered) { fired++ })
		for _, s := range c.subs {
			d.OnPulse(clock.Pulse{Bar: 1, Beat: 1, Subdivision: s})
		}
		if fired != c.want {
			t.Errorf("subdivision %d: fired %d times, want %d", c.subdivision, fired, c.want)
		}
	}
}

func TestFireSkipsDisabledInstances(t *testing.T) {
	_, port, reg, d := newTestDispatcher(16)
	a := reg.CreateNote(36, 100, 9)
	reg.CreateNote(38, 90, 9)
	reg.CreateControl(74, 10, 0)
	reg.SetEnabled(a, false)

	var got Triggered
	d.OnTriggered(func(tr Triggered) { got = tr })
	d.ManualTrigger()

	if got.NoteCount != 1 || got.ControlCount != 1 {
		t.Fatalf("triggered = %+v", got)
	}
	ons := port.of("on")
	if len(ons) != 1 || ons[0].a != 38 || ons[0].b != 90 || ons[0].ch != 9 {
		t.Fatalf("note-ons = %+v", ons)
	}
	ccs := port.of("cc")
	if len(ccs) != 1 || ccs[0].a != 74 || ccs[0].b != 10 {
		t.Fatalf("ccs = %+v", ccs)
	}
}

func TestDeleteCutsSoundingNote(t *testing.T) {
	f, port, reg, d := newTestDispatcher(16)
	id := reg.CreateNote(60, 100, 0)

	d.ManualTrigger()
	f.Advance(10 * time.Millisecond)
	reg.Delete(id)

	offs := port.of("off")
	if len(offs) != 1 || offs[0].at != 10*time.Millisecond {
		t.Fatalf("expected immediate note-off at 10ms, got %+v", offs)
	}
	f.Advance(time.Second)
	if n := len(port.of("off")); n != 1 {
		t.Fatalf("stale note-off fired after delete: %d offs", n)
	}
}

func TestNoteChangeReleasesOldKey(t *testing.T) {
	f, port, reg, d := newTestDispatcher(16)
	id := reg.CreateNote(60, 100, 0)

	d.ManualTrigger()
	reg.SetNote(id, 64)
	offs := port.of("off")
	if len(offs) != 1 || offs[0].a != 60 {
		t.Fatalf("expected note-off for 60, got %+v", offs)
	}

	// velocity changes leave the sounding note alone
	d.ManualTrigger()
	reg.SetVelocity(id, 20)
	if n := len(port.of("off")); n != 1 {
		t.Fatalf("velocity change released note: %d offs", n)
	}
	f.Advance(time.Second)
	if n := len(port.of("off")); n != 2 {
		t.Fatalf("expected 2 offs total, got %d", n)
	}
}

func TestTransportErrorsDoNotStopDispatch(t *testing.T) {
	f, port, reg, d := newTestDispatcher(16)
	port.err = errors.New("unplugged")
	reg.CreateNote(60, 100, 0)
	reg.CreateControl(7, 100, 0)

	fired := 0
	d.OnTriggered(func(Triggered) { fired++ })
	d.ManualTrigger()
	if fired != 1 || d.Sounding() != 1 {
		t.Fatalf("fired=%d sounding=%d", fired, d.Sounding())
	}
	f.Advance(DefaultNoteDuration)
	if d.Sounding() != 0 {
		t.Fatal("note-off timer did not clear after send error")
	}
	if len(port.msgs) != 3 {
		t.Fatalf("expected on, cc, off attempts, got %+v", port.msgs)
	}
}

func TestAllNotesOff(t *testing.T) {
	f, port, _, d := newTestDispatcher(16)
	d.PlayNote(60, 100, 0, time.Second)
	d.PlayNote(61, 100, 0, time.Second)

	d.AllNotesOff()
	if d.Sounding() != 0 || len(port.of("off")) != 2 {
		t.Fatalf("sounding=%d offs=%d", d.Sounding(), len(port.of("off")))
	}
	if f.Pending() != 0 {
		t.Fatalf("%d timers still armed", f.Pending())
	}
}

func TestSetNoteDuration(t *testing.T) {
	f, port, reg, d := newTestDispatcher(16)
	reg.CreateNote(60, 100, 0)
	d.SetNoteDuration(0) // ignored
	d.SetNoteDuration(250 * time.Millisecond)

	d.ManualTrigger()
	f.Advance(time.Second)
	offs := port.of("off")
	if len(offs) != 1 || offs[0].at != 250*time.Millisecond {
		t.Fatalf("note-off = %+v, want at 250ms", offs)
	}
}
