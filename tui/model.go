package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-midisurface/clock"
	"go-midisurface/debug"
	"go-midisurface/midi"
	"go-midisurface/surface"
	"go-midisurface/theme"
	"go-midisurface/widgets"
)

type Model struct {
	Manager   *surface.Manager
	DeviceMgr *midi.DeviceManager
	Theme     *theme.Theme
	FlashHold time.Duration

	cursor   int
	notice   string
	quitting bool
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

// flashOffMsg redraws once the trigger flash has expired
type flashOffMsg struct{}

var helpKeys = []widgets.KeyBinding{
	{Key: "space", Desc: "play"},
	{Key: "r", Desc: "reset"},
	{Key: "+/-", Desc: "bpm"},
	{Key: "[/]", Desc: "beats"},
	{Key: "d", Desc: "subdiv"},
	{Key: "s", Desc: "source"},
	{Key: "n/c", Desc: "new note/cc"},
	{Key: "x", Desc: "delete"},
	{Key: "e", Desc: "enable"},
	{Key: "hjkl", Desc: "edit"},
	{Key: "t", Desc: "trigger"},
	{Key: "!", Desc: "panic"},
	{Key: "q", Desc: "quit"},
}

func NewModel(manager *surface.Manager, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Manager:   manager,
		DeviceMgr: deviceMgr,
		Theme:     th,
		FlashHold: 80 * time.Millisecond,
	}
}

func ListenForUpdates(manager *surface.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Manager)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case UpdateMsg:
		return m, tea.Batch(
			ListenForUpdates(m.Manager),
			tea.Tick(m.FlashHold, func(time.Time) tea.Msg { return flashOffMsg{} }),
		)

	case flashOffMsg:
		return m, nil

	case DeviceEventMsg:
		m.handleDevice(midi.DeviceEvent(msg))
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	mgr := m.Manager
	selected := m.selectedID()
	m.notice = ""

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		mgr.Stop()
		mgr.AllNotesOff()
		return m, tea.Quit

	case " ", "space":
		mgr.TogglePlay()
	case "r":
		mgr.Reset()
	case "+", "=":
		mgr.NudgeTempo(1)
	case "-", "_":
		mgr.NudgeTempo(-1)
	case "]":
		mgr.NudgeBeatsPerBar(1)
	case "[":
		mgr.NudgeBeatsPerBar(-1)
	case "d":
		mgr.CycleSubdivision()
	case "s":
		mgr.ToggleSource()

	case "n":
		mgr.CreateNote(60, 100)
		m.cursor = len(mgr.Status().Instances) - 1
	case "c":
		mgr.CreateControl(1, 64)
		m.cursor = len(mgr.Status().Instances) - 1
	case "x":
		if selected != "" {
			mgr.Delete(selected)
			m.clampCursor()
		}
	case "e":
		if selected != "" {
			mgr.ToggleEnabled(selected)
		}

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		m.cursor++
		m.clampCursor()
	case "right", "l":
		if selected != "" {
			mgr.AdjustPrimary(selected, 1)
		}
	case "left", "h":
		if selected != "" {
			mgr.AdjustPrimary(selected, -1)
		}
	case "shift+right", "L":
		if selected != "" {
			mgr.AdjustSecondary(selected, 8)
		}
	case "shift+left", "H":
		if selected != "" {
			mgr.AdjustSecondary(selected, -8)
		}
	case ">":
		if selected != "" {
			mgr.AdjustChannel(selected, 1)
		}
	case "<":
		if selected != "" {
			mgr.AdjustChannel(selected, -1)
		}

	case "t":
		mgr.ManualTrigger()
	case "!":
		mgr.AllNotesOff()
		m.notice = "all notes off"
	}
	return m, nil
}

func (m *Model) handleDevice(event midi.DeviceEvent) {
	status := m.Manager.Status()
	debug.Log("tui", "device %s %s %q", event.Direction, eventName(event.Type), event.Name)

	switch {
	case event.Type == midi.DeviceConnected && event.Direction == midi.DirIn && event.Name == status.InputPort:
		if status.InputOpen {
			return
		}
		if err := m.Manager.OpenInput(event.Name); err != nil {
			m.notice = err.Error()
			return
		}
		m.notice = "input " + event.Name
	case event.Type == midi.DeviceConnected && event.Direction == midi.DirOut && event.Name == status.OutputPort:
		m.Manager.SetOutputPort(event.Name)
		m.notice = "output " + event.Name
	case event.Type == midi.DeviceDisconnected && event.Direction == midi.DirIn && event.Name == status.InputPort:
		m.Manager.ReleaseInput(event.Name)
		m.notice = "input " + event.Name + " disconnected"
	case event.Type == midi.DeviceDisconnected:
		m.notice = event.Name + " disconnected"
	}
}

func eventName(t midi.DeviceEventType) string {
	if t == midi.DeviceConnected {
		return "connected"
	}
	return "disconnected"
}

func (m Model) selectedID() string {
	list := m.Manager.Status().Instances
	if m.cursor < 0 || m.cursor >= len(list) {
		return ""
	}
	return list[m.cursor].ID()
}

func (m *Model) clampCursor() {
	n := len(m.Manager.Status().Instances)
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.Manager.Status()
	th := m.Theme

	headerStyle := lipgloss.NewStyle().Foreground(th.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(th.Warning())
	flashStyle := lipgloss.NewStyle().Foreground(th.Success()).Bold(true)

	playState := "STOP"
	if s.State.IsRunning {
		playState = "PLAY"
	}

	var src string
	if s.Tempo.Source == clock.SourceExternal {
		if s.External.IsReceiving && s.External.BPM > 0 {
			src = fmt.Sprintf("ext %3dbpm", s.External.BPM)
		} else {
			src = warnStyle.Render("ext waiting for clock")
		}
	} else {
		src = fmt.Sprintf("int %3dbpm", s.Tempo.BPM)
	}

	flash := " "
	if widgets.FlashActive(s.Triggers, s.LastTrigger.Timestamp, s.Now, m.FlashHold) {
		flash = flashStyle.Render(string(th.Symbols.Flash))
	}

	header := headerStyle.Render(fmt.Sprintf("go-midisurface  %s  ", playState)) + src + "  " + flash

	perBeat := clock.SubdivisionsPerBeat(s.State.Subdivision)
	grid := widgets.RenderBeatGrid(
		widgets.BeatCells(s.State.CurrentBeat, s.State.BeatsPerBar, s.State.IsRunning),
		s.Position.Subdivision, perBeat, m.glyphs(),
	)
	position := fmt.Sprintf("%3d.%d.%-2d  %d/4  1/%d", s.Position.Bar, s.Position.Beat, s.Position.Subdivision,
		s.State.BeatsPerBar, s.State.Subdivision)

	ports := dimStyle.Render(fmt.Sprintf("in: %s  out: %s  ch: %d  sounding: %d",
		orNone(s.InputPort), orNone(s.OutputPort), s.Channel+1, s.Sounding))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(position)
	out.WriteString("  ")
	out.WriteString(grid)
	out.WriteString("\n\n")
	out.WriteString(m.renderInstances(s.Instances))
	out.WriteString("\n\n")
	out.WriteString(ports)
	out.WriteString("\n")
	out.WriteString(dimStyle.Render(widgets.RenderKeyLine(helpKeys)))
	if m.notice != "" {
		out.WriteString("\n")
		out.WriteString(warnStyle.Render(m.notice))
	}
	return out.String()
}

func (m Model) renderInstances(list []surface.Instance) string {
	if len(list) == 0 {
		return lipgloss.NewStyle().Foreground(m.Theme.Muted()).Render("  no instances - n: note  c: control")
	}
	sym := m.Theme.Symbols
	cursorStyle := lipgloss.NewStyle().Foreground(m.Theme.Cursor())
	onStyle := lipgloss.NewStyle().Foreground(m.Theme.Active())
	offStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())

	lines := make([]string, len(list))
	for i, inst := range list {
		mark := " "
		if i == m.cursor {
			mark = cursorStyle.Render(string(sym.Cursor))
		}
		state := offStyle.Render(string(sym.Disabled))
		if inst.Enabled() {
			state = onStyle.Render(string(sym.Enabled))
		}
		var desc string
		if inst.Kind == surface.KindNote {
			n := inst.Note
			desc = fmt.Sprintf("note %-4s vel %3d ch %2d", noteName(n.Note), n.Velocity, n.Channel+1)
		} else {
			c := inst.Control
			desc = fmt.Sprintf("cc   %-4d val %3d ch %2d", c.Controller, c.Value, c.Channel+1)
		}
		lines[i] = fmt.Sprintf("%s %s %-8s %s", mark, state, inst.ID(), desc)
	}
	return strings.Join(lines, "\n")
}

func (m Model) glyphs() widgets.GridGlyphs {
	th := m.Theme
	return widgets.GridGlyphs{
		Empty:        th.Symbols.BeatEmpty,
		Past:         th.Symbols.BeatPast,
		Current:      th.Symbols.BeatCurrent,
		SubTick:      th.Symbols.SubTick,
		EmptyColor:   th.Palette.Lookup(theme.RoleMuted),
		PastColor:    th.Palette.Lookup(theme.RoleFG),
		CurrentColor: th.Palette.Lookup(theme.RoleSuccess),
		SubColor:     th.Palette.Lookup(theme.RoleAccent),
	}
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// noteName uses C4 = 60
func noteName(n uint8) string {
	return fmt.Sprintf("%s%d", noteNames[n%12], int(n)/12-1)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
