// Package config reads the session file: tempo, scheduling and output
// settings plus the instruments to register.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/cbegin/notesched/internal/render"
	"github.com/cbegin/notesched/internal/transport"
)

var ErrInvalidConfig = errors.New("invalid config")

// Kind selects the instrument implementation.
type Kind string

const (
	KindSynth   Kind = "synth"
	KindSampler Kind = "sampler"
	KindMIDI    Kind = "midi"
)

// Duration reads Go duration strings such as "25ms".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Envelope is a linear ADSR in seconds (sustain is a level 0..1).
type Envelope struct {
	Attack  float64 `json:"attack"`
	Decay   float64 `json:"decay"`
	Sustain float64 `json:"sustain"`
	Release float64 `json:"release"`
}

// Instrument describes one registered instrument.
type Instrument struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Voices    int     `json:"voices,omitempty"`
	MaxVoices int     `json:"maxVoices,omitempty"`
	Gain      float64 `json:"gain,omitempty"`
	Pan       float64 `json:"pan,omitempty"`

	// synth
	Wave     string    `json:"wave,omitempty"` // sine|triangle|saw|square
	Envelope *Envelope `json:"envelope,omitempty"`
	Cutoff   float64   `json:"cutoff,omitempty"`
	Vibrato  float64   `json:"vibrato,omitempty"` // depth in semitones, at 5 Hz
	OneShot  float64   `json:"oneShot,omitempty"` // seconds a one-shot sounds

	// sampler
	Roots       []int   `json:"roots,omitempty"` // root notes of the generated key map
	SampleSecs  float64 `json:"sampleSeconds,omitempty"`
	ReleaseTail float64 `json:"releaseTail,omitempty"`

	// midi
	Port    string `json:"port,omitempty"`    // substring of the output port name
	Channel int    `json:"channel,omitempty"` // 1-16
}

// Loop is a loop region in steps.
type Loop struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Config is the session file.
type Config struct {
	Tempo             float64        `json:"tempo"`
	StepsPerBeat      float64        `json:"stepsPerBeat"`
	Lookahead         float64        `json:"lookahead"`
	PassInterval      Duration       `json:"passInterval"`
	SampleRate        int            `json:"sampleRate"`
	MasterGain        float64        `json:"masterGain"`
	Loop              bool           `json:"loop,omitempty"`
	LoopRegion        *Loop          `json:"loopRegion,omitempty"`
	DefaultInstrument string         `json:"defaultInstrument"`
	Instruments       []Instrument   `json:"instruments"`
	MIDIChannels      map[int]string `json:"midiChannels,omitempty"` // 1-16 -> instrument id, for MIDI file input
}

// Default returns a single wavetable synth at 120 BPM.
func Default() *Config {
	return &Config{
		Tempo:             transport.DefaultTempo,
		StepsPerBeat:      transport.DefaultStepsPerBeat,
		Lookahead:         0.1,
		PassInterval:      Duration(25 * time.Millisecond),
		SampleRate:        48000,
		MasterGain:        1,
		DefaultInstrument: "lead",
		Instruments:       []Instrument{{ID: "lead", Kind: KindSynth}},
	}
}

// Load reads the config at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
// Instruments and MIDIChannels given in data replace the ones in cfg rather
// than merging with them.
func Parse(data []byte, cfg *Config) error {
	instruments, channels := cfg.Instruments, cfg.MIDIChannels
	cfg.Instruments, cfg.MIDIChannels = nil, nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "decode config")
	}
	if cfg.Instruments == nil {
		cfg.Instruments = instruments
	}
	if cfg.MIDIChannels == nil {
		cfg.MIDIChannels = channels
	}
	return cfg.Validate()
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// Validate checks the settings the engine cannot repair itself. Tempo is
// clamped by the transport and is not checked here.
func (c *Config) Validate() error {
	var problems []string
	if !(c.StepsPerBeat > 0) {
		problems = append(problems, "stepsPerBeat must be positive")
	}
	if c.Lookahead < 0 {
		problems = append(problems, "lookahead must not be negative")
	}
	if c.SampleRate <= 0 {
		problems = append(problems, "sampleRate must be positive")
	}
	if c.LoopRegion != nil && (c.LoopRegion.Start < 0 || c.LoopRegion.End <= c.LoopRegion.Start) {
		problems = append(problems, "loopRegion must satisfy 0 <= start < end")
	}
	for i, inst := range c.Instruments {
		if strings.TrimSpace(inst.ID) == "" {
			problems = append(problems, fmt.Sprintf("instrument #%d has no id", i))
		}
		switch inst.Kind {
		case KindSynth:
			if _, ok := render.ParseShape(inst.Wave); !ok {
				problems = append(problems, fmt.Sprintf("instrument %s: unknown wave %q", inst.ID, inst.Wave))
			}
		case KindSampler:
		case KindMIDI:
			if inst.Channel < 0 || inst.Channel > 16 {
				problems = append(problems, fmt.Sprintf("instrument %s: channel must be 1-16", inst.ID))
			}
		default:
			problems = append(problems, fmt.Sprintf("instrument %s: unknown kind %q", inst.ID, inst.Kind))
		}
	}
	for _, id := range lo.FindDuplicates(lo.Map(c.Instruments, func(inst Instrument, _ int) string { return inst.ID })) {
		problems = append(problems, fmt.Sprintf("duplicate instrument id %s", id))
	}
	if c.DefaultInstrument != "" && !lo.ContainsBy(c.Instruments, func(inst Instrument) bool { return inst.ID == c.DefaultInstrument }) {
		problems = append(problems, fmt.Sprintf("defaultInstrument %s is not defined", c.DefaultInstrument))
	}
	for ch, id := range c.MIDIChannels {
		if ch < 1 || ch > 16 {
			problems = append(problems, fmt.Sprintf("midiChannels key %d must be 1-16", ch))
		} else if !lo.ContainsBy(c.Instruments, func(inst Instrument) bool { return inst.ID == id }) {
			problems = append(problems, fmt.Sprintf("midiChannels %d routes to undefined instrument %s", ch, id))
		}
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SMFChannels converts MIDIChannels to zero-based channel numbers.
func (c *Config) SMFChannels() map[uint8]string {
	out := make(map[uint8]string, len(c.MIDIChannels))
	for ch, id := range c.MIDIChannels {
		if ch >= 1 && ch <= 16 {
			out[uint8(ch-1)] = id
		}
	}
	return out
}

// Params returns the wavetable settings for a synth instrument.
func (i Instrument) Params() render.Params {
	p := render.DefaultParams()
	if i.Voices > 0 {
		p.Polyphony = i.Voices
	}
	if i.Gain > 0 {
		p.MasterGain = i.Gain
	}
	p.Pan = i.Pan
	if e := i.Envelope; e != nil {
		p.AttackSec, p.DecaySec, p.SustainLvl, p.ReleaseSec = e.Attack, e.Decay, e.Sustain, e.Release
	}
	if i.Cutoff > 0 {
		p.LPFCutoff = i.Cutoff
	}
	if i.Vibrato > 0 {
		p.VibratoDepth, p.VibratoRate = i.Vibrato, 5
	}
	if shape, ok := render.ParseShape(i.Wave); ok && shape != render.ShapeSine {
		p.Table = render.ShapeTable(shape, 64)
	}
	return p
}

// SampleParams returns the sample player settings for a sampler instrument.
func (i Instrument) SampleParams() render.SampleParams {
	p := render.DefaultSampleParams()
	if i.Voices > 0 {
		p.Polyphony = i.Voices
	}
	if i.Gain > 0 {
		p.MasterGain = i.Gain
	}
	p.Pan = i.Pan
	return p
}

// MIDIChannel is the zero-based output channel.
func (i Instrument) MIDIChannel() uint8 {
	if i.Channel < 1 {
		return 0
	}
	return uint8(i.Channel-1) & 0x0F
}
