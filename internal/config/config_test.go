package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/render"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tempo != 120 || cfg.SampleRate != 48000 || len(cfg.Instruments) != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := Parse([]byte(`{
		"tempo": 96,
		"passInterval": "10ms",
		"defaultInstrument": "keys",
		"instruments": [
			{"id": "keys", "kind": "synth", "wave": "saw", "voices": 8, "envelope": {"attack": 0.01, "decay": 0.1, "sustain": 0.5, "release": 0.3}},
			{"id": "drums", "kind": "sampler", "roots": [36, 38]},
			{"id": "ext", "kind": "midi", "port": "IAC", "channel": 10}
		],
		"midiChannels": {"10": "drums"}
	}`), cfg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tempo != 96 || cfg.StepsPerBeat != 4 || time.Duration(cfg.PassInterval) != 10*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Instruments) != 3 || cfg.Instruments[2].Kind != KindMIDI {
		t.Fatalf("instruments = %+v", cfg.Instruments)
	}
	if ch := cfg.Instruments[2].MIDIChannel(); ch != 9 {
		t.Fatalf("midi channel = %d", ch)
	}
	if got := cfg.SMFChannels(); got[9] != "drums" || len(got) != 1 {
		t.Fatalf("SMFChannels = %v", got)
	}
	p := cfg.Instruments[0].Params()
	if p.Polyphony != 8 || p.ReleaseSec != 0.3 || p.SustainLvl != 0.5 {
		t.Fatalf("params = %+v", p)
	}
}

func TestInstrumentsReplaceRatherThanMerge(t *testing.T) {
	cfg := Default()
	if err := Parse([]byte(`{"defaultInstrument": "ext", "instruments": [{"id": "ext", "kind": "midi"}]}`), cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Instruments[0].Kind != KindMIDI || cfg.Instruments[0].Wave != "" {
		t.Fatalf("instrument merged with default: %+v", cfg.Instruments[0])
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"steps per beat", `{"stepsPerBeat": 0}`, "stepsPerBeat"},
		{"unknown kind", `{"instruments": [{"id": "lead", "kind": "theremin"}]}`, "unknown kind"},
		{"unknown wave", `{"instruments": [{"id": "lead", "kind": "synth", "wave": "organ"}]}`, "unknown wave"},
		{"duplicate", `{"instruments": [{"id": "lead", "kind": "synth"}, {"id": "lead", "kind": "sampler"}]}`, "duplicate"},
		{"default missing", `{"defaultInstrument": "pad"}`, "defaultInstrument pad"},
		{"loop", `{"loopRegion": {"start": 8, "end": 4}}`, "loopRegion"},
		{"channel route", `{"midiChannels": {"2": "nobody"}}`, "undefined instrument"},
		{"channel range", `{"midiChannels": {"17": "lead"}}`, "must be 1-16"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Parse([]byte(tc.json), Default())
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestBadDurationFails(t *testing.T) {
	if err := Parse([]byte(`{"passInterval": "soon"}`), Default()); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	cfg := Default()
	cfg.Tempo = 140
	cfg.LoopRegion = &Loop{Start: 0, End: 16}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.Tempo != 140 || back.LoopRegion == nil || back.LoopRegion.End != 16 || back.PassInterval != cfg.PassInterval {
		t.Fatalf("loaded = %+v", back)
	}
}

func TestLoadReportsDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"tempo": "fast"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "bad.json") {
		t.Fatalf("Load = %v", err)
	}
}

func TestSampleParams(t *testing.T) {
	p := Instrument{Kind: KindSampler, Gain: 0.5, Pan: -1}.SampleParams()
	want := render.DefaultSampleParams()
	if p.MasterGain != 0.5 || p.Pan != -1 || p.ReleaseSec != want.ReleaseSec {
		t.Fatalf("sample params = %+v", p)
	}
}
