package midi

import (
	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Input delivers raw messages from one gomidi input port
type Input struct {
	id       string
	inPort   drivers.In
	stopFunc func()
}

// OpenInput finds portName and starts listening. handler runs on the driver's
// goroutine and receives its own copy of each message.
func OpenInput(portName string, handler func(raw []byte)) (*Input, error) {
	var inPort drivers.In
	for _, p := range gomidi.GetInPorts() {
		if p.String() == portName {
			inPort = p
			break
		}
	}
	if inPort == nil {
		return nil, errors.Wrapf(ErrPortNotFound, "input %q", portName)
	}
	return ListenInput(portName, inPort, handler)
}

// ListenInput starts listening on an already resolved port
func ListenInput(id string, inPort drivers.In, handler func(raw []byte)) (*Input, error) {
	in := &Input{id: id, inPort: inPort}

	// TimeCode lets clock bytes through; the driver filters them by default
	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		raw := make([]byte, len(msg))
		copy(raw, msg)
		handler(raw)
	}, gomidi.UseTimeCode())
	if err != nil {
		return nil, errors.Wrapf(err, "open input %q", id)
	}
	in.stopFunc = stop
	return in, nil
}

// NewInputFunc wraps a stop function as an Input, for callers that deliver
// messages themselves
func NewInputFunc(id string, stop func()) *Input {
	return &Input{id: id, stopFunc: stop}
}

func (in *Input) ID() string {
	return in.id
}

func (in *Input) Close() error {
	if in.stopFunc != nil {
		in.stopFunc()
		in.stopFunc = nil
	}
	return nil
}
