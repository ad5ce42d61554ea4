package midi

import "fmt"

// Channel voice status bytes (high nibble; low nibble is the channel)
const (
	NoteOff uint8 = 0x80
	NoteOn  uint8 = 0x90
	CC      uint8 = 0xB0
)

// System real-time status bytes
const (
	Clock    uint8 = 0xF8
	Start    uint8 = 0xFA
	Continue uint8 = 0xFB
	Stop     uint8 = 0xFC
)

// Data byte and channel limits
const (
	MaxData    = 127
	MaxChannel = 15
)

// Kind classifies an incoming message by its status byte
type Kind int

const (
	KindUnknown Kind = iota
	KindNoteOn
	KindNoteOff
	KindControlChange
	KindClock
	KindStart
	KindContinue
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "note-on"
	case KindNoteOff:
		return "note-off"
	case KindControlChange:
		return "control-change"
	case KindClock:
		return "clock"
	case KindStart:
		return "start"
	case KindContinue:
		return "continue"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is a decoded MIDI message
type Event struct {
	Kind    Kind
	Channel uint8 // 0-15, channel messages only
	Data1   uint8 // note or controller
	Data2   uint8 // velocity or value
}

func (e Event) String() string {
	switch e.Kind {
	case KindNoteOn, KindNoteOff, KindControlChange:
		return fmt.Sprintf("%s ch=%d %d %d", e.Kind, e.Channel, e.Data1, e.Data2)
	default:
		return e.Kind.String()
	}
}

// Parse classifies a raw message by its leading status byte. Real-time
// messages are one byte; channel messages need three.
func Parse(raw []byte) (Event, bool) {
	if len(raw) == 0 {
		return Event{}, false
	}
	status := raw[0]
	switch status {
	case Clock:
		return Event{Kind: KindClock}, true
	case Start:
		return Event{Kind: KindStart}, true
	case Continue:
		return Event{Kind: KindContinue}, true
	case Stop:
		return Event{Kind: KindStop}, true
	}

	if status < 0x80 || status >= 0xF0 || len(raw) < 3 {
		return Event{}, false
	}
	ev := Event{
		Channel: status & 0x0F,
		Data1:   raw[1] & 0x7F,
		Data2:   raw[2] & 0x7F,
	}
	switch status & 0xF0 {
	case NoteOn:
		ev.Kind = KindNoteOn
		// running-status convention: velocity 0 is a release
		if ev.Data2 == 0 {
			ev.Kind = KindNoteOff
		}
	case NoteOff:
		ev.Kind = KindNoteOff
	case CC:
		ev.Kind = KindControlChange
	default:
		return Event{}, false
	}
	return ev, true
}

// Encode produces the wire bytes for ev.
func Encode(ev Event) []byte {
	switch ev.Kind {
	case KindNoteOn:
		return []byte{NoteOn | ev.Channel&0x0F, ev.Data1 & 0x7F, ev.Data2 & 0x7F}
	case KindNoteOff:
		return []byte{NoteOff | ev.Channel&0x0F, ev.Data1 & 0x7F, ev.Data2 & 0x7F}
	case KindControlChange:
		return []byte{CC | ev.Channel&0x0F, ev.Data1 & 0x7F, ev.Data2 & 0x7F}
	case KindClock:
		return []byte{Clock}
	case KindStart:
		return []byte{Start}
	case KindContinue:
		return []byte{Continue}
	case KindStop:
		return []byte{Stop}
	}
	return nil
}

// ClampData limits v to a 7-bit data value
func ClampData(v int) uint8 {
	return uint8(clampInt(v, 0, MaxData))
}

// ClampChannel limits v to 0-15
func ClampChannel(v int) uint8 {
	return uint8(clampInt(v, 0, MaxChannel))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
