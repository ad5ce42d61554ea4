package surface

import (
	"fmt"

	"go-midisurface/config"
	"go-midisurface/debug"
	"go-midisurface/midi"
)

// Kind tells note instances from control instances
type Kind int

const (
	KindNote Kind = iota
	KindControl
)

// NoteInstance sends a note-on/note-off pair on every trigger.
type NoteInstance struct {
	ID       string
	Note     uint8 // 0-127
	Velocity uint8 // 1-127
	Channel  uint8 // 0-15
	Enabled  bool
}

// ControlInstance sends one control change on every trigger.
type ControlInstance struct {
	ID         string
	Controller uint8 // 0-127
	Value      uint8 // 0-127
	Channel    uint8 // 0-15
	Enabled    bool
}

// Instance is a registry entry. Exactly one of Note and Control is set.
type Instance struct {
	Kind    Kind
	Note    *NoteInstance
	Control *ControlInstance
}

// ID returns the instance id
func (i Instance) ID() string {
	if i.Kind == KindNote {
		return i.Note.ID
	}
	return i.Control.ID
}

// Enabled reports whether the instance takes part in triggers
func (i Instance) Enabled() bool {
	if i.Kind == KindNote {
		return i.Note.Enabled
	}
	return i.Control.Enabled
}

// Registry owns every live instance, keyed by id. Creation order is kept so
// triggers fire in a stable order. Must be used on the loop.
type Registry struct {
	order    []string
	notes    map[string]*NoteInstance
	controls map[string]*ControlInstance
	nextID   int

	// release is called with the old note state whenever a note stops being
	// playable under its current key: delete, disable, note or channel change
	release func(NoteInstance)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		notes:    make(map[string]*NoteInstance),
		controls: make(map[string]*ControlInstance),
	}
}

// SetReleaseHook installs the cleanup callback for sounding notes
func (r *Registry) SetReleaseHook(f func(NoteInstance)) {
	r.release = f
}

// CreateNote adds an enabled note instance, clamping every field, and returns its id
func (r *Registry) CreateNote(note, velocity, channel int) string {
	id := r.newID("note")
	r.notes[id] = &NoteInstance{
		ID:       id,
		Note:     clampField("note", note, 0, midi.MaxData),
		Velocity: clampField("velocity", velocity, 1, midi.MaxData),
		Channel:  clampField("channel", channel, 0, midi.MaxChannel),
		Enabled:  true,
	}
	r.order = append(r.order, id)
	return id
}

// CreateControl adds an enabled control instance, clamping every field, and returns its id
func (r *Registry) CreateControl(controller, value, channel int) string {
	id := r.newID("ctrl")
	r.controls[id] = &ControlInstance{
		ID:         id,
		Controller: clampField("controller", controller, 0, midi.MaxData),
		Value:      clampField("value", value, 0, midi.MaxData),
		Channel:    clampField("channel", channel, 0, midi.MaxChannel),
		Enabled:    true,
	}
	r.order = append(r.order, id)
	return id
}

// Get returns a copy of the instance with id
func (r *Registry) Get(id string) (Instance, bool) {
	if n, ok := r.notes[id]; ok {
		c := *n
		return Instance{Kind: KindNote, Note: &c}, true
	}
	if c, ok := r.controls[id]; ok {
		cc := *c
		return Instance{Kind: KindControl, Control: &cc}, true
	}
	return Instance{}, false
}

// Delete removes id, releasing a sounding note first. Unknown ids are a no-op.
func (r *Registry) Delete(id string) bool {
	if n, ok := r.notes[id]; ok {
		r.releaseNote(*n)
		delete(r.notes, id)
	} else if _, ok := r.controls[id]; ok {
		delete(r.controls, id)
	} else {
		debug.Warn("registry", "delete of unknown id %q ignored", id)
		return false
	}
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear deletes every instance
func (r *Registry) Clear() {
	for _, id := range append([]string(nil), r.order...) {
		r.Delete(id)
	}
}

// List returns every instance in creation order
func (r *Registry) List() []Instance {
	out := make([]Instance, 0, len(r.order))
	for _, id := range r.order {
		if inst, ok := r.Get(id); ok {
			out = append(out, inst)
		}
	}
	return out
}

// ListEnabled returns copies of the enabled notes and controls in creation order
func (r *Registry) ListEnabled() (notes []NoteInstance, controls []ControlInstance) {
	for _, id := range r.order {
		if n, ok := r.notes[id]; ok && n.Enabled {
			notes = append(notes, *n)
		}
		if c, ok := r.controls[id]; ok && c.Enabled {
			controls = append(controls, *c)
		}
	}
	return notes, controls
}

// Len returns the number of instances
func (r *Registry) Len() int {
	return len(r.order)
}

// SetEnabled toggles whether id takes part in triggers
func (r *Registry) SetEnabled(id string, on bool) bool {
	if n, ok := r.notes[id]; ok {
		if n.Enabled && !on {
			r.releaseNote(*n)
		}
		n.Enabled = on
		return true
	}
	if c, ok := r.controls[id]; ok {
		c.Enabled = on
		return true
	}
	debug.Warn("registry", "enable of unknown id %q ignored", id)
	return false
}

// SetNote changes the note number of a note instance
func (r *Registry) SetNote(id string, note int) bool {
	return r.updateNote(id, func(n *NoteInstance) {
		n.Note = clampField("note", note, 0, midi.MaxData)
	})
}

// SetVelocity changes the velocity of a note instance
func (r *Registry) SetVelocity(id string, velocity int) bool {
	return r.updateNote(id, func(n *NoteInstance) {
		n.Velocity = clampField("velocity", velocity, 1, midi.MaxData)
	})
}

// SetController changes the controller number of a control instance
func (r *Registry) SetController(id string, controller int) bool {
	return r.updateControl(id, func(c *ControlInstance) {
		c.Controller = clampField("controller", controller, 0, midi.MaxData)
	})
}

// SetValue changes the value of a control instance
func (r *Registry) SetValue(id string, value int) bool {
	return r.updateControl(id, func(c *ControlInstance) {
		c.Value = clampField("value", value, 0, midi.MaxData)
	})
}

// SetChannel changes the channel of either kind of instance
func (r *Registry) SetChannel(id string, channel int) bool {
	if _, ok := r.notes[id]; ok {
		return r.updateNote(id, func(n *NoteInstance) {
			n.Channel = clampField("channel", channel, 0, midi.MaxChannel)
		})
	}
	return r.updateControl(id, func(c *ControlInstance) {
		c.Channel = clampField("channel", channel, 0, midi.MaxChannel)
	})
}

func (r *Registry) updateNote(id string, f func(*NoteInstance)) bool {
	n, ok := r.notes[id]
	if !ok {
		debug.Warn("registry", "update of unknown note %q ignored", id)
		return false
	}
	old := *n
	f(n)
	if old.Note != n.Note || old.Channel != n.Channel {
		r.releaseNote(old)
	}
	return true
}

func (r *Registry) updateControl(id string, f func(*ControlInstance)) bool {
	c, ok := r.controls[id]
	if !ok {
		debug.Warn("registry", "update of unknown control %q ignored", id)
		return false
	}
	f(c)
	return true
}

func (r *Registry) releaseNote(n NoteInstance) {
	if r.release != nil {
		r.release(n)
	}
}

func (r *Registry) newID(prefix string) string {
	for {
		r.nextID++
		id := fmt.Sprintf("%s-%d", prefix, r.nextID)
		if _, taken := r.notes[id]; taken {
			continue
		}
		if _, taken := r.controls[id]; taken {
			continue
		}
		return id
	}
}

// Snapshot converts the registry to config records for persistence
func (r *Registry) Snapshot() (notes []config.NoteConfig, controls []config.ControlConfig) {
	for _, id := range r.order {
		if n, ok := r.notes[id]; ok {
			notes = append(notes, config.NoteConfig{
				ID: n.ID, Note: int(n.Note), Velocity: int(n.Velocity), Channel: int(n.Channel), Enabled: n.Enabled,
			})
		}
		if c, ok := r.controls[id]; ok {
			controls = append(controls, config.ControlConfig{
				ID: c.ID, Controller: int(c.Controller), Value: int(c.Value), Channel: int(c.Channel), Enabled: c.Enabled,
			})
		}
	}
	return notes, controls
}

// Restore replaces the registry contents with saved records. Saved ids are
// kept unless they collide, in which case a fresh id is issued.
func (r *Registry) Restore(notes []config.NoteConfig, controls []config.ControlConfig) {
	r.Clear()
	for _, nc := range notes {
		id := r.CreateNote(nc.Note, nc.Velocity, nc.Channel)
		id = r.rename(id, nc.ID)
		r.notes[id].Enabled = nc.Enabled
	}
	for _, cc := range controls {
		id := r.CreateControl(cc.Controller, cc.Value, cc.Channel)
		id = r.rename(id, cc.ID)
		r.controls[id].Enabled = cc.Enabled
	}
}

func (r *Registry) rename(id, want string) string {
	if want == "" || want == id {
		return id
	}
	if _, taken := r.notes[want]; taken {
		return id
	}
	if _, taken := r.controls[want]; taken {
		return id
	}
	if n, ok := r.notes[id]; ok {
		delete(r.notes, id)
		n.ID = want
		r.notes[want] = n
	} else if c, ok := r.controls[id]; ok {
		delete(r.controls, id)
		c.ID = want
		r.controls[want] = c
	}
	for i, v := range r.order {
		if v == id {
			r.order[i] = want
		}
	}
	return want
}

func clampField(name string, v, lo, hi int) uint8 {
	c := v
	if c < lo {
		c = lo
	}
	if c > hi {
		c = hi
	}
	if c != v {
		debug.Warn("registry", "%s %d out of range, clamped to %d", name, v, c)
	}
	return uint8(c)
}
