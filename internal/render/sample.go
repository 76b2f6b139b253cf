package render

import (
	"math"
	"sort"
)

// Zone is one mono sample recorded at Root. Playing another pitch resamples
// it by 2^((pitch-Root)/12).
type Zone struct {
	Root       int
	Data       []float32
	SampleRate int
}

// Speed is the playback rate for pitch relative to the recording.
func (z Zone) Speed(pitch int) float64 {
	return math.Pow(2, float64(pitch-z.Root)/12)
}

// Seconds is how long the zone plays at pitch before the buffer runs out.
func (z Zone) Seconds(pitch int) float64 {
	if z.SampleRate <= 0 || len(z.Data) == 0 {
		return 0
	}
	return float64(len(z.Data)) / float64(z.SampleRate) / z.Speed(pitch)
}

// Zones is a key map sorted by root note.
type Zones []Zone

// NewZones copies zs sorted by root note.
func NewZones(zs ...Zone) Zones {
	out := make(Zones, len(zs))
	copy(out, zs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// Nearest returns the zone whose root is closest to pitch, preferring the
// lower zone on ties.
func (zs Zones) Nearest(pitch int) (Zone, bool) {
	if len(zs) == 0 {
		return Zone{}, false
	}
	best := 0
	for i := 1; i < len(zs); i++ {
		if abs(zs[i].Root-pitch) < abs(zs[best].Root-pitch) {
			best = i
		}
	}
	return zs[best], true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// SampleParams controls the sample player.
type SampleParams struct {
	Polyphony  int
	ReleaseSec float64
	MasterGain float64
	Pan        float64
}

func DefaultSampleParams() SampleParams {
	return SampleParams{Polyphony: defaultPolyphony, ReleaseSec: 0.05, MasterGain: 0.8}
}

type playback struct {
	active    bool
	id        int
	zone      Zone
	pos       float64
	step      float64
	velocity  float64
	releasing bool
	fade      float64
	age       int
}

// SamplePlayer plays zones back at a pitch-dependent rate. A voice stops at the
// end of its buffer or after a short fade once released.
type SamplePlayer struct {
	sampleRate float64
	params     SampleParams
	zones      Zones
	plays      []playback
	leftGain   float64
	rightGain  float64
}

func NewSamplePlayer(sampleRate int, params SampleParams, zones Zones) *SamplePlayer {
	if params.Polyphony <= 0 {
		params.Polyphony = defaultPolyphony
	}
	s := &SamplePlayer{
		sampleRate: float64(sampleRate),
		params:     params,
		zones:      zones,
		plays:      make([]playback, params.Polyphony),
	}
	s.leftGain, s.rightGain = panGains(params.Pan)
	return s
}

func (s *SamplePlayer) Zones() Zones { return s.zones }

func (s *SamplePlayer) NoteOn(id int, pitch int, velocity float64) {
	z, ok := s.zones.Nearest(pitch)
	if !ok || len(z.Data) == 0 || z.SampleRate <= 0 {
		return
	}
	p := &s.plays[s.slotFor(id)]
	*p = playback{
		active:   true,
		id:       id,
		zone:     z,
		step:     z.Speed(pitch) * float64(z.SampleRate) / s.sampleRate,
		velocity: clamp(velocity, 0, 1),
		fade:     1,
	}
}

func (s *SamplePlayer) NoteOff(id int) {
	for i := range s.plays {
		p := &s.plays[i]
		if p.active && p.id == id {
			p.releasing = true
		}
	}
}

func (s *SamplePlayer) Kill(id int) {
	for i := range s.plays {
		if s.plays[i].active && s.plays[i].id == id {
			s.plays[i].active = false
		}
	}
}

func (s *SamplePlayer) RenderFrame() (float32, float32) {
	fadeStep := 1.0
	if s.params.ReleaseSec > 0 {
		fadeStep = 1 / (s.params.ReleaseSec * s.sampleRate)
	}
	var sum float64
	for i := range s.plays {
		p := &s.plays[i]
		if !p.active {
			continue
		}
		data := p.zone.Data
		idx := int(p.pos)
		if idx >= len(data) {
			p.active = false
			continue
		}
		frac := p.pos - float64(idx)
		next := float32(0)
		if idx+1 < len(data) {
			next = data[idx+1]
		}
		sig := float64(data[idx])*(1-frac) + float64(next)*frac
		sum += sig * p.velocity * p.fade * s.params.MasterGain
		p.pos += p.step
		p.age++
		if p.releasing {
			p.fade -= fadeStep
			if p.fade <= 0 {
				p.active = false
			}
		}
	}
	return float32(clamp(sum*s.leftGain, -1, 1)), float32(clamp(sum*s.rightGain, -1, 1))
}

func (s *SamplePlayer) ActiveVoiceCount() int {
	n := 0
	for i := range s.plays {
		if s.plays[i].active {
			n++
		}
	}
	return n
}

// ReleaseSeconds is the fade applied after NoteOff.
func (s *SamplePlayer) ReleaseSeconds() float64 { return s.params.ReleaseSec }

func (s *SamplePlayer) slotFor(id int) int {
	for i := range s.plays {
		if s.plays[i].active && s.plays[i].id == id {
			return i
		}
	}
	for i := range s.plays {
		if !s.plays[i].active {
			return i
		}
	}
	oldest := 0
	for i := 1; i < len(s.plays); i++ {
		if s.plays[i].age > s.plays[oldest].age {
			oldest = i
		}
	}
	return oldest
}
