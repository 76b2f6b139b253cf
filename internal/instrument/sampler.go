package instrument

import (
	"github.com/cbegin/notesched/internal/render"
	"github.com/cbegin/notesched/internal/voice"
)

// Sampler plays multi-sample zones. Every voice ends when its buffer runs
// out; a Release before that fades it early.
type Sampler struct {
	*poly
	zones render.Zones
}

func NewSampler(sink Sink, zones render.Zones, opts ...Option) *Sampler {
	return &Sampler{poly: newPoly(sink, opts), zones: zones}
}

// NewSamplePlayerSampler registers a sample player on mixer and returns a
// sampler playing through it.
func NewSamplePlayerSampler(mixer *render.Mixer, params render.SampleParams, zones render.Zones, opts ...Option) *Sampler {
	engine := render.NewSamplePlayer(mixer.SampleRate(), params, zones)
	opts = append([]Option{WithVoices(params.Polyphony), WithReleaseTail(engine.ReleaseSeconds())}, opts...)
	return NewSampler(mixer.Add(engine), zones, opts...)
}

func (s *Sampler) Trigger(pitch int, velocity, at, duration float64) voice.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocate(pitch, velocity, at)
	end := at
	if z, ok := s.zones.Nearest(pitch); ok {
		end += z.Seconds(pitch)
	} else {
		s.cfg.log.WithField("pitch", pitch).Warn("sampler has no zones")
	}
	s.addTimer(timer{at: end, h: h, kind: timerFree})
	return h
}
