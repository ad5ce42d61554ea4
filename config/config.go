package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"go-midisurface/clock"
	"go-midisurface/debug"
)

// TempoConfig stores tempo and clock source
type TempoConfig struct {
	BPM                 int    `json:"bpm"`
	Source              string `json:"source"`
	SyncToExternalClock bool   `json:"syncToExternalClock,omitempty"`
}

// ClockConfig stores the bar layout and clock output
type ClockConfig struct {
	BeatsPerBar int  `json:"beatsPerBar"`
	Subdivision int  `json:"subdivision"`
	SendClock   bool `json:"sendClock,omitempty"`
	NoteMillis  int  `json:"noteMillis,omitempty"` // note-on to note-off gap
}

// MIDIConfig defines the MIDI ports and default channel
type MIDIConfig struct {
	InputPort  string `json:"inputPort,omitempty"`
	OutputPort string `json:"outputPort,omitempty"`
	Channel    int    `json:"channel"` // 0-15, used for new instances
}

// NoteConfig is a saved note instance
type NoteConfig struct {
	ID       string `json:"id"`
	Note     int    `json:"note"`
	Velocity int    `json:"velocity"`
	Channel  int    `json:"channel"`
	Enabled  bool   `json:"enabled"`
}

// ControlConfig is a saved control instance
type ControlConfig struct {
	ID         string `json:"id"`
	Controller int    `json:"controller"`
	Value      int    `json:"value"`
	Channel    int    `json:"channel"`
	Enabled    bool   `json:"enabled"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	FlashMillis int `json:"flashMillis,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Tempo    TempoConfig     `json:"tempo"`
	Clock    ClockConfig     `json:"clock"`
	MIDI     MIDIConfig      `json:"midi"`
	Notes    []NoteConfig    `json:"notes,omitempty"`
	Controls []ControlConfig `json:"controls,omitempty"`
	UI       UIConfig        `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Tempo: TempoConfig{
			BPM:    clock.DefaultBPM,
			Source: string(clock.SourceInternal),
		},
		Clock: ClockConfig{
			BeatsPerBar: clock.DefaultBeatsPerBar,
			Subdivision: clock.DefaultSubdivision,
			NoteMillis:  100,
		},
		UI: UIConfig{
			FlashMillis: 80,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "home dir")
	}
	return filepath.Join(home, ".config", "go-midisurface"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, or returns defaults if it does not exist
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

// Normalize pulls every field back into range, logging each fix
func (c *Config) Normalize() {
	c.Tempo.BPM = clock.ClampBPM(c.Tempo.BPM)
	if !clock.ValidSource(clock.Source(c.Tempo.Source)) {
		debug.Warn("config", "unknown source %q, using internal", c.Tempo.Source)
		c.Tempo.Source = string(clock.SourceInternal)
	}
	if !clock.ValidBeatsPerBar(c.Clock.BeatsPerBar) {
		debug.Warn("config", "beats per bar %d invalid, using %d", c.Clock.BeatsPerBar, clock.DefaultBeatsPerBar)
		c.Clock.BeatsPerBar = clock.DefaultBeatsPerBar
	}
	if !clock.ValidSubdivision(c.Clock.Subdivision) {
		debug.Warn("config", "subdivision %d invalid, using %d", c.Clock.Subdivision, clock.DefaultSubdivision)
		c.Clock.Subdivision = clock.DefaultSubdivision
	}
	if c.Clock.NoteMillis <= 0 {
		c.Clock.NoteMillis = 100
	}
	c.MIDI.Channel = clampWarn("channel", c.MIDI.Channel, 0, 15)

	// instance fields are clamped again by the registry; ids must be unique here
	seen := make(map[string]bool)
	for i := range c.Notes {
		c.Notes[i].ID = uniqueID(seen, c.Notes[i].ID)
	}
	for i := range c.Controls {
		c.Controls[i].ID = uniqueID(seen, c.Controls[i].ID)
	}
}

// uniqueID blanks duplicate or empty ids so the registry issues fresh ones
func uniqueID(seen map[string]bool, id string) string {
	if id == "" || seen[id] {
		if id != "" {
			debug.Warn("config", "duplicate instance id %q dropped", id)
		}
		return ""
	}
	seen[id] = true
	return id
}

func clampWarn(name string, v, lo, hi int) int {
	c := v
	if c < lo {
		c = lo
	}
	if c > hi {
		c = hi
	}
	if c != v {
		debug.Warn("config", "%s %d out of range, clamped to %d", name, v, c)
	}
	return c
}
