package midi

import (
	"sync"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

var (
	// ErrNoDevice is returned when sending with no output port selected
	ErrNoDevice = errors.New("no MIDI output selected")
	// ErrPortNotFound is returned when a named port is not present
	ErrPortNotFound = errors.New("MIDI port not found")
)

// Port is the outbound MIDI transport. Channels are 0-15.
type Port interface {
	SendNoteOn(note, velocity, channel uint8) error
	SendNoteOff(note, channel uint8) error
	SendControlChange(controller, value, channel uint8) error
	SendClock() error
	SendStart() error
	SendContinue() error
	SendStop() error
}

// Output sends through a gomidi output port, opened lazily by name
type Output struct {
	mu       sync.RWMutex
	portName string
	port     drivers.Out
	send     func(gomidi.Message) error
}

// NewOutput creates an output bound to portName ("" = none selected)
func NewOutput(portName string) *Output {
	return &Output{portName: portName}
}

// NewOutputFunc creates an output that hands every message to send
func NewOutputFunc(send func(gomidi.Message) error) *Output {
	return &Output{portName: "func", send: send}
}

// PortName returns the selected port name
func (o *Output) PortName() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.portName
}

// SetPort switches to another output port, closing the current one. Setting
// the same name again reopens it, which recovers a replugged device.
func (o *Output) SetPort(portName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
	o.portName = portName
}

// Close releases the underlying port
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeLocked()
}

func (o *Output) closeLocked() error {
	var err error
	if o.port != nil {
		err = o.port.Close()
		o.port = nil
	}
	o.send = nil
	return err
}

// sender returns the send func, opening the port on first use
func (o *Output) sender() (func(gomidi.Message) error, error) {
	o.mu.RLock()
	if o.send != nil {
		s := o.send
		o.mu.RUnlock()
		return s, nil
	}
	name := o.portName
	o.mu.RUnlock()

	if name == "" {
		return nil, ErrNoDevice
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Double-check after acquiring write lock
	if o.send != nil {
		return o.send, nil
	}

	var port drivers.Out
	for _, p := range gomidi.GetOutPorts() {
		if p.String() == name {
			port = p
			break
		}
	}
	if port == nil {
		return nil, errors.Wrapf(ErrPortNotFound, "output %q", name)
	}
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, errors.Wrapf(err, "open output %q", name)
	}
	o.port = port
	o.send = send
	return send, nil
}

func (o *Output) write(msg gomidi.Message) error {
	send, err := o.sender()
	if err != nil {
		return err
	}
	if err := send(msg); err != nil {
		return errors.Wrapf(err, "send % X", []byte(msg))
	}
	return nil
}

func (o *Output) SendNoteOn(note, velocity, channel uint8) error {
	return o.write(gomidi.NoteOn(channel&0x0F, note&0x7F, velocity&0x7F))
}

func (o *Output) SendNoteOff(note, channel uint8) error {
	return o.write(gomidi.NoteOff(channel&0x0F, note&0x7F))
}

func (o *Output) SendControlChange(controller, value, channel uint8) error {
	return o.write(gomidi.ControlChange(channel&0x0F, controller&0x7F, value&0x7F))
}

func (o *Output) SendClock() error {
	return o.write(gomidi.Message{Clock})
}

func (o *Output) SendStart() error {
	return o.write(gomidi.Message{Start})
}

func (o *Output) SendContinue() error {
	return o.write(gomidi.Message{Continue})
}

func (o *Output) SendStop() error {
	return o.write(gomidi.Message{Stop})
}
