package instrument

import (
	"github.com/cbegin/notesched/internal/render"
	"github.com/cbegin/notesched/internal/voice"
)

// Synth drives a sound generator through a Sink. One-shot notes are released
// automatically after the configured one-shot length.
type Synth struct {
	*poly
}

// NewSynth returns a synth that sends its voices to sink. A nil sink makes a
// silent instrument that still tracks voices.
func NewSynth(sink Sink, opts ...Option) *Synth {
	return &Synth{poly: newPoly(sink, opts)}
}

// NewWavetableSynth registers a wavetable engine on mixer and returns a synth
// playing through it. The release tail follows the engine's envelope.
func NewWavetableSynth(mixer *render.Mixer, params render.Params, opts ...Option) *Synth {
	engine := render.NewWavetable(mixer.SampleRate(), params)
	opts = append([]Option{WithVoices(params.Polyphony), WithReleaseTail(engine.ReleaseSeconds())}, opts...)
	return NewSynth(mixer.Add(engine), opts...)
}

func (s *Synth) Trigger(pitch int, velocity, at, duration float64) voice.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocate(pitch, velocity, at)
	if duration <= 0 {
		rel := at + s.cfg.oneShot
		s.sink.NoteOff(rel, voiceID(h))
		s.addTimer(timer{at: rel, h: h, kind: timerRelease})
	}
	return h
}
