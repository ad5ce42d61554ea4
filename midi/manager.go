package midi

import (
	"context"
	"sort"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Direction tells input ports from output ports
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// DeviceEvent is emitted when ports appear or disappear
type DeviceEvent struct {
	Type      DeviceEventType
	Direction Direction
	Name      string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// PortLister returns the names of the current input and output ports
type PortLister func() (ins, outs []string)

// DeviceManager handles hot-plug detection of MIDI ports
type DeviceManager struct {
	list     PortLister
	ins      map[string]bool
	outs     map[string]bool
	mu       sync.RWMutex
	events   chan DeviceEvent
	pollRate time.Duration
}

// NewDeviceManager creates a device manager polling the gomidi driver
func NewDeviceManager() *DeviceManager {
	return NewDeviceManagerWith(ListPorts)
}

// NewDeviceManagerWith creates a device manager over a custom port lister
func NewDeviceManagerWith(list PortLister) *DeviceManager {
	return &DeviceManager{
		list:     list,
		ins:      make(map[string]bool),
		outs:     make(map[string]bool),
		events:   make(chan DeviceEvent, 16),
		pollRate: time.Second,
	}
}

// ListPorts returns the driver's port names
func ListPorts() (ins, outs []string) {
	for _, p := range gomidi.GetInPorts() {
		ins = append(ins, p.String())
	}
	for _, p := range gomidi.GetOutPorts() {
		outs = append(outs, p.String())
	}
	return ins, outs
}

// Events returns a channel of port connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Ports returns sorted snapshots of the known port names
func (dm *DeviceManager) Ports() (ins, outs []string) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return sortedKeys(dm.ins), sortedKeys(dm.outs)
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.Scan()

	for {
		select {
		case <-ctx.Done():
			close(dm.events)
			return
		case <-ticker.C:
			dm.Scan()
		}
	}
}

// Scan lists ports once and emits events for any change
func (dm *DeviceManager) Scan() {
	// Get current MIDI ports with timeout (CoreMIDI can hang)
	type portsResult struct {
		ins, outs []string
	}

	ch := make(chan portsResult, 1)
	go func() {
		ins, outs := dm.list()
		ch <- portsResult{ins: ins, outs: outs}
	}()

	var result portsResult
	select {
	case result = <-ch:
	case <-time.After(3 * time.Second):
		// CoreMIDI is hung - skip this scan
		// User needs to run: sudo killall coreaudiod midiserver
		return
	}

	dm.mu.Lock()
	events := diff(dm.ins, result.ins, DirIn)
	events = append(events, diff(dm.outs, result.outs, DirOut)...)
	dm.mu.Unlock()

	for _, ev := range events {
		select {
		case dm.events <- ev:
		default:
			// Drop if nobody is listening
		}
	}
}

// diff updates known to match seen and returns what changed. Caller holds mu.
func diff(known map[string]bool, seen []string, dir Direction) []DeviceEvent {
	var events []DeviceEvent
	seenSet := make(map[string]bool, len(seen))
	for _, name := range seen {
		seenSet[name] = true
		if !known[name] {
			known[name] = true
			events = append(events, DeviceEvent{Type: DeviceConnected, Direction: dir, Name: name})
		}
	}
	for name := range known {
		if !seenSet[name] {
			delete(known, name)
			events = append(events, DeviceEvent{Type: DeviceDisconnected, Direction: dir, Name: name})
		}
	}
	return events
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
