package clock

import "time"

// State is the musical position and layout owned by the Engine.
type State struct {
	IsRunning   bool
	CurrentBeat int
	CurrentBar  int
	BeatsPerBar int
	Subdivision int
}

// NewState returns the stopped state at 1.1 in 4/4 sixteenths.
func NewState() State {
	return State{
		CurrentBeat: 1,
		CurrentBar:  1,
		BeatsPerBar: DefaultBeatsPerBar,
		Subdivision: DefaultSubdivision,
	}
}

// Pulse is one emitted timing event. Subdivision is 1..SubdivisionsPerBeat.
type Pulse struct {
	Timestamp   time.Duration
	Bar         int
	Beat        int
	Subdivision int
}
