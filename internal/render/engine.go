// Package render turns scheduled note commands into stereo float32 frames.
// The Mixer owns the frame counter that the rest of the session uses as its
// audio clock.
package render

import "math"

const twoPi = math.Pi * 2

// Engine is a sound generator addressed by caller-chosen voice ids.
type Engine interface {
	NoteOn(id int, pitch int, velocity float64)
	NoteOff(id int)
	// Kill silences a voice without a release tail.
	Kill(id int)
	RenderFrame() (float32, float32)
	// ActiveVoiceCount returns the number of voices still sounding,
	// release tails included.
	ActiveVoiceCount() int
}

// MIDIToFreq converts a MIDI note number to Hz (A4 = 440).
func MIDIToFreq(pitch int) float64 {
	return 440 * math.Pow(2, float64(pitch-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// panGains returns equal-power gains for pan in [-1, 1].
func panGains(pan float64) (float64, float64) {
	angle := (clamp(pan, -1, 1) + 1) / 2 * (math.Pi / 2)
	return math.Cos(angle), math.Sin(angle)
}
