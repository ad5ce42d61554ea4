package clock

import (
	"time"

	"go-midisurface/debug"
)

// Source selects the timebase driving the clock.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Tempo limits accepted from the user.
const (
	MinBPM     = 60
	MaxBPM     = 200
	DefaultBPM = 120
)

// Layout limits.
const (
	MinBeatsPerBar     = 1
	MaxBeatsPerBar     = 16
	DefaultBeatsPerBar = 4
	DefaultSubdivision = 16
)

// Subdivisions lists the accepted subdivision values in cycling order.
var Subdivisions = []int{4, 8, 16, 32}

// minInterval is the floor on any scheduled delay.
const minInterval = 5 * time.Millisecond

// TempoConfig holds tempo and source selection.
type TempoConfig struct {
	BPM                 int    `json:"bpm"`
	Source              Source `json:"source"`
	IsRunning           bool   `json:"-"`
	SyncToExternalClock bool   `json:"syncToExternalClock"`
}

// DefaultTempo returns 120 BPM on the internal clock.
func DefaultTempo() TempoConfig {
	return TempoConfig{BPM: DefaultBPM, Source: SourceInternal}
}

// SetBPM stores bpm clamped to [MinBPM, MaxBPM]
func (t *TempoConfig) SetBPM(bpm int) {
	t.BPM = ClampBPM(bpm)
}

// ClampBPM returns bpm limited to [MinBPM, MaxBPM], logging when it had to clamp.
func ClampBPM(bpm int) int {
	clamped := bpm
	if clamped < MinBPM {
		clamped = MinBPM
	}
	if clamped > MaxBPM {
		clamped = MaxBPM
	}
	if clamped != bpm {
		debug.Warn("tempo", "bpm %d out of range, clamped to %d", bpm, clamped)
	}
	return clamped
}

// ValidSource reports whether s names a known source.
func ValidSource(s Source) bool {
	return s == SourceInternal || s == SourceExternal
}

// ValidBeatsPerBar reports whether n is in [1, 16].
func ValidBeatsPerBar(n int) bool {
	return n >= MinBeatsPerBar && n <= MaxBeatsPerBar
}

// ValidSubdivision reports whether s is one of 4, 8, 16, 32.
func ValidSubdivision(s int) bool {
	for _, v := range Subdivisions {
		if v == s {
			return true
		}
	}
	return false
}

// NextSubdivision returns the subdivision after s in cycling order.
func NextSubdivision(s int) int {
	for i, v := range Subdivisions {
		if v == s {
			return Subdivisions[(i+1)%len(Subdivisions)]
		}
	}
	return DefaultSubdivision
}

// BeatInterval is the length of one quarter-note beat.
// bpm outside (0, 1000] falls back to 120.
func BeatInterval(bpm int) time.Duration {
	if bpm <= 0 || bpm > 1000 {
		bpm = DefaultBPM
	}
	return time.Minute / time.Duration(bpm)
}

// SubdivisionInterval is the length of one subdivision step, never below 5ms.
// subdivision outside (0, 64] falls back to 16.
func SubdivisionInterval(bpm, subdivision int) time.Duration {
	if subdivision <= 0 || subdivision > 64 {
		subdivision = DefaultSubdivision
	}
	perBeat := subdivision / 4
	if perBeat < 1 {
		perBeat = 1
	}
	d := BeatInterval(bpm) / time.Duration(perBeat)
	if d < minInterval {
		d = minInterval
	}
	return d
}

// SubdivisionsPerBeat is how many steps make up one quarter note, at least 1.
func SubdivisionsPerBeat(subdivision int) int {
	n := subdivision / 4
	if n < 1 {
		return 1
	}
	return n
}

// Position is a musical location, all fields 1-based.
type Position struct {
	Bar         int
	Beat        int
	Subdivision int
}

// PositionAt derives the position reached after a whole number of steps.
func PositionAt(totalSubdivisions, subdivision, beatsPerBar int) Position {
	perBeat := SubdivisionsPerBeat(subdivision)
	perBar := perBeat * beatsPerBar
	return Position{
		Bar:         totalSubdivisions/perBar + 1,
		Beat:        (totalSubdivisions/perBeat)%beatsPerBar + 1,
		Subdivision: totalSubdivisions%perBeat + 1,
	}
}

// StepsAt returns floor(elapsed / interval).
func StepsAt(elapsed, interval time.Duration) int {
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / interval)
}

// NextDelay is the wait until the next step boundary, never below 5ms.
func NextDelay(elapsed, interval time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	d := interval - elapsed%interval
	if d < minInterval {
		d = minInterval
	}
	return d
}

// Rescale converts a duration measured in old steps to the same number of new steps.
func Rescale(d, oldInterval, newInterval time.Duration) time.Duration {
	if oldInterval <= 0 {
		return d
	}
	return time.Duration(float64(d) / float64(oldInterval) * float64(newInterval))
}
