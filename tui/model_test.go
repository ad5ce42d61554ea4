package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-midisurface/config"
	"go-midisurface/loop"
	"go-midisurface/midi"
	"go-midisurface/surface"
	"go-midisurface/theme"
)

func newTestModel() (Model, *surface.Manager) {
	out := midi.NewOutputFunc(func(gomidi.Message) error { return nil })
	mgr := surface.New(loop.NewFake(), out, config.DefaultConfig())
	return NewModel(mgr, nil, theme.New(theme.Plasma())), mgr
}

func press(m Model, key string) Model {
	var msg tea.KeyMsg
	if key == " " {
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	} else {
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestKeysDriveManager(t *testing.T) {
	m, mgr := newTestModel()

	m = press(m, "n")
	m = press(m, "l")
	m = press(m, "c")
	s := mgr.Status()
	if len(s.Instances) != 2 {
		t.Fatalf("instances = %d", len(s.Instances))
	}
	if s.Instances[0].Note.Note != 61 {
		t.Fatalf("note = %d, want 61", s.Instances[0].Note.Note)
	}

	m = press(m, "e") // cursor follows the new control
	if mgr.Status().Instances[1].Enabled() {
		t.Fatal("control should be disabled")
	}

	m = press(m, " ")
	if !mgr.Status().State.IsRunning {
		t.Fatal("space should start the clock")
	}
	m = press(m, "+")
	if bpm := mgr.Status().Tempo.BPM; bpm != 121 {
		t.Fatalf("bpm = %d", bpm)
	}

	view := m.View()
	for _, want := range []string{"PLAY", "note-1", "ctrl-2", "C#4"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = press(m, "x")
	if n := len(mgr.Status().Instances); n != 1 {
		t.Fatalf("instances after delete = %d", n)
	}
	m = press(m, "x")
	m = press(m, "x") // nothing left to delete
	if n := len(mgr.Status().Instances); n != 0 {
		t.Fatalf("instances = %d", n)
	}
}

func TestExternalWaitingForClock(t *testing.T) {
	m, mgr := newTestModel()
	m = press(m, "s")
	if !strings.Contains(m.View(), "waiting for clock") {
		t.Fatalf("view:\n%s", m.View())
	}
	mgr.Close()
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.(Model).View() != "" {
		t.Fatal("view should be empty after quit")
	}
}

func TestDeviceEventsFollowInputPort(t *testing.T) {
	m, mgr := newTestModel()
	opened, closed := 0, 0
	mgr.SetInputOpener(func(name string, handler func(raw []byte)) (*midi.Input, error) {
		opened++
		return midi.NewInputFunc(name, func() { closed++ }), nil
	})
	if err := mgr.OpenInput("Keystep"); err != nil {
		t.Fatal(err)
	}

	connected := midi.DeviceEvent{Type: midi.DeviceConnected, Direction: midi.DirIn, Name: "Keystep"}
	gone := midi.DeviceEvent{Type: midi.DeviceDisconnected, Direction: midi.DirIn, Name: "Keystep"}

	// the first scan reports the already open port
	m.handleDevice(connected)
	if opened != 1 || closed != 0 {
		t.Fatalf("open input was reopened: opened=%d closed=%d", opened, closed)
	}

	m.handleDevice(midi.DeviceEvent{Type: midi.DeviceDisconnected, Direction: midi.DirIn, Name: "Other"})
	if closed != 0 {
		t.Fatal("unrelated disconnect closed the input")
	}

	m.handleDevice(gone)
	if closed != 1 || mgr.Status().InputOpen {
		t.Fatalf("input left listening after disconnect: closed=%d", closed)
	}
	if !strings.Contains(m.View(), "disconnected") {
		t.Fatalf("view:\n%s", m.View())
	}

	m.handleDevice(connected)
	if opened != 2 || !mgr.Status().InputOpen {
		t.Fatalf("input not reopened on reconnect: opened=%d", opened)
	}
	mgr.Close()
}
