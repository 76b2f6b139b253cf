package render

import (
	"math"
	"sync/atomic"
)

const defaultPolyphony = 16

// Params controls the wavetable engine.
type Params struct {
	Polyphony    int
	AttackSec    float64
	DecaySec     float64
	SustainLvl   float64
	ReleaseSec   float64
	MasterGain   float64
	VelocityAmp  float64
	Pan          float64   // -1 left .. +1 right
	LPFCutoff    float64   // lowpass cutoff in Hz (0 = disabled)
	VibratoDepth float64   // semitones
	VibratoRate  float64   // Hz
	Table        []float64 // single-cycle waveform; nil means sine
}

// DefaultParams returns sensible defaults for wavetable synthesis.
func DefaultParams() Params {
	return Params{
		Polyphony:   defaultPolyphony,
		AttackSec:   0.005,
		DecaySec:    0.12,
		SustainLvl:  0.75,
		ReleaseSec:  0.2,
		MasterGain:  0.42,
		VelocityAmp: 0.8,
		LPFCutoff:   12000,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type tone struct {
	active   bool
	id       int
	velocity float64
	freq     float64
	phase    float64 // position in the table [0, tableLen)
	env      float64
	envState envState
}

// Wavetable is a single-cycle wavetable oscillator bank with a linear ADSR.
type Wavetable struct {
	sampleRate float64
	params     Params
	tones      []tone
	table      []float64
	masterGain uint64
	lpfL       float64
	lpfR       float64
	lpfAlpha   float64
	vibrato    LFO
	leftGain   float64
	rightGain  float64
}

// NewWavetable creates an engine at sampleRate with a sine table loaded.
func NewWavetable(sampleRate int, params Params) *Wavetable {
	if params.Polyphony <= 0 {
		params.Polyphony = defaultPolyphony
	}
	e := &Wavetable{
		sampleRate: float64(sampleRate),
		params:     params,
		tones:      make([]tone, params.Polyphony),
		masterGain: math.Float64bits(params.MasterGain),
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		e.lpfAlpha = dt / (rc + dt)
	}
	e.vibrato.Set(params.VibratoDepth, params.VibratoRate, ShapeSine)
	e.leftGain, e.rightGain = panGains(params.Pan)
	sine := make([]float64, 64)
	for i := range sine {
		sine[i] = math.Sin(twoPi * float64(i) / float64(len(sine)))
	}
	e.table = sine
	e.SetTable(params.Table)
	return e
}

// SetTable loads a single-cycle waveform. Empty tables are ignored.
func (e *Wavetable) SetTable(samples []float64) {
	if len(samples) == 0 {
		return
	}
	cp := make([]float64, len(samples))
	copy(cp, samples)
	e.table = cp
}

// NoteOn starts pitch on voice id. A tone already playing under id is
// restarted.
func (e *Wavetable) NoteOn(id int, pitch int, velocity float64) {
	t := &e.tones[e.slotFor(id)]
	*t = tone{
		active:   true,
		id:       id,
		velocity: clamp(velocity, 0, 1),
		freq:     MIDIToFreq(pitch),
		envState: envAttack,
	}
}

// NoteOff moves voice id into its release phase.
func (e *Wavetable) NoteOff(id int) {
	for i := range e.tones {
		t := &e.tones[i]
		if t.active && t.id == id && t.envState != envRelease {
			t.envState = envRelease
		}
	}
}

func (e *Wavetable) Kill(id int) {
	for i := range e.tones {
		t := &e.tones[i]
		if t.active && t.id == id {
			t.active = false
			t.env = 0
			t.envState = envOff
		}
	}
}

// RenderFrame produces one stereo sample pair.
func (e *Wavetable) RenderFrame() (float32, float32) {
	freqMul := 1.0
	if mod := e.vibrato.Sample(e.sampleRate); mod != 0 {
		freqMul = math.Pow(2, mod/12.0)
	}
	tableLen := float64(len(e.table))
	gain := e.masterGainValue()

	var sum float64
	for i := range e.tones {
		t := &e.tones[i]
		if !t.active {
			continue
		}
		env := e.advanceEnv(t)
		if !t.active {
			continue
		}

		// Linear interpolation between adjacent samples.
		idx := math.Floor(t.phase)
		frac := t.phase - idx
		i0 := int(idx) % len(e.table)
		i1 := (i0 + 1) % len(e.table)
		sig := e.table[i0]*(1-frac) + e.table[i1]*frac
		sum += sig * env * gain * (0.2 + t.velocity*e.params.VelocityAmp)

		t.phase += t.freq * freqMul * tableLen / e.sampleRate
		for t.phase >= tableLen {
			t.phase -= tableLen
		}
	}

	l, r := sum*e.leftGain, sum*e.rightGain
	if e.lpfAlpha > 0 {
		e.lpfL += e.lpfAlpha * (l - e.lpfL)
		e.lpfR += e.lpfAlpha * (r - e.lpfR)
		l, r = e.lpfL, e.lpfR
	}
	return float32(clamp(l, -1, 1)), float32(clamp(r, -1, 1))
}

// SetMasterGain sets the master gain atomically.
func (e *Wavetable) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// ActiveVoiceCount returns the number of currently sounding tones.
func (e *Wavetable) ActiveVoiceCount() int {
	n := 0
	for i := range e.tones {
		if e.tones[i].active {
			n++
		}
	}
	return n
}

// ReleaseSeconds is how long a tone keeps sounding after NoteOff.
func (e *Wavetable) ReleaseSeconds() float64 { return e.params.ReleaseSec }

func (e *Wavetable) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}

// slotFor returns the tone already bound to id, else a free tone, else the
// quietest one.
func (e *Wavetable) slotFor(id int) int {
	for i := range e.tones {
		if e.tones[i].active && e.tones[i].id == id {
			return i
		}
	}
	for i := range e.tones {
		if !e.tones[i].active {
			return i
		}
	}
	quiet := 0
	minEnv := e.tones[0].env
	for i := 1; i < len(e.tones); i++ {
		if e.tones[i].env < minEnv {
			minEnv = e.tones[i].env
			quiet = i
		}
	}
	return quiet
}

func (e *Wavetable) advanceEnv(t *tone) float64 {
	switch t.envState {
	case envAttack:
		step := 1.0
		if e.params.AttackSec > 0 {
			step = 1.0 / (e.params.AttackSec * e.sampleRate)
		}
		t.env += step
		if t.env >= 1 {
			t.env = 1
			t.envState = envDecay
		}
	case envDecay:
		step := 1.0
		if e.params.DecaySec > 0 {
			step = (1 - e.params.SustainLvl) / (e.params.DecaySec * e.sampleRate)
		}
		t.env -= step
		if t.env <= e.params.SustainLvl {
			t.env = e.params.SustainLvl
			t.envState = envSustain
		}
	case envSustain:
		// hold
	case envRelease:
		step := 1.0
		if e.params.ReleaseSec > 0 {
			step = math.Max(e.params.SustainLvl, 0.01) / (e.params.ReleaseSec * e.sampleRate)
		}
		t.env -= step
		if t.env <= 0.0001 {
			t.env = 0
			t.envState = envOff
			t.active = false
		}
	case envOff:
		t.active = false
		t.env = 0
	}
	return t.env
}
