package widgets

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Cell is the state of one beat in the bar grid
type Cell int

const (
	CellEmpty Cell = iota
	CellPast
	CellCurrent
)

// BeatCells lays out one bar. Nothing is current while stopped at 1.1.
func BeatCells(beat, beatsPerBar int, running bool) []Cell {
	cells := make([]Cell, beatsPerBar)
	if !running && beat <= 1 {
		return cells
	}
	for i := range cells {
		switch {
		case i+1 < beat:
			cells[i] = CellPast
		case i+1 == beat:
			cells[i] = CellCurrent
		}
	}
	return cells
}

// GridGlyphs maps each cell state to a rune and color
type GridGlyphs struct {
	Empty, Past, Current   rune
	EmptyColor, PastColor  [3]uint8
	CurrentColor, SubColor [3]uint8
	SubTick                rune
}

// RenderGlyph renders a single colored rune
func RenderGlyph(color [3]uint8, r rune) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(rgbToHex(color)))
	return style.Render(string(r))
}

// RenderBeatGrid renders the bar as a row of beats followed by the
// subdivision ticks inside the current beat
func RenderBeatGrid(cells []Cell, sub, perBeat int, g GridGlyphs) string {
	var out strings.Builder
	for i, c := range cells {
		if i > 0 {
			out.WriteString(" ")
		}
		switch c {
		case CellPast:
			out.WriteString(RenderGlyph(g.PastColor, g.Past))
		case CellCurrent:
			out.WriteString(RenderGlyph(g.CurrentColor, g.Current))
		default:
			out.WriteString(RenderGlyph(g.EmptyColor, g.Empty))
		}
	}
	if perBeat > 1 {
		out.WriteString("  ")
		for i := 1; i <= perBeat; i++ {
			color := g.EmptyColor
			if i <= sub {
				color = g.SubColor
			}
			out.WriteString(RenderGlyph(color, g.SubTick))
		}
	}
	return out.String()
}

// FlashActive reports whether a trigger at last is still within hold of now.
// count is zero until the first trigger.
func FlashActive(count int, last, now, hold time.Duration) bool {
	return count > 0 && now >= last && now-last < hold
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderKeyLine packs key bindings onto one line: "key:desc  key:desc"
func RenderKeyLine(keys []KeyBinding) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Key + ":" + k.Desc
	}
	return strings.Join(parts, "  ")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}

func rgbToHex(c [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
