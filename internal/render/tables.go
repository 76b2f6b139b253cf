package render

import (
	"math"
	"strings"
)

// ParseShape maps a waveform name to a Shape constant.
func ParseShape(name string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sine", "sin":
		return ShapeSine, true
	case "triangle", "tri":
		return ShapeTriangle, true
	case "saw", "sawtooth":
		return ShapeSaw, true
	case "square", "pulse":
		return ShapeSquare, true
	}
	return ShapeSine, false
}

// ShapeTable renders one cycle of shape into size samples for
// Wavetable.SetTable.
func ShapeTable(shape, size int) []float64 {
	if size <= 0 {
		size = 64
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = shapeAt(shape, float64(i)/float64(size))
	}
	return out
}

// PluckZone synthesizes a plucked tone at root: a sine with a touch of second
// harmonic under an exponential decay. It gives the sampler a key map without
// reading sample files.
func PluckZone(sampleRate, root int, seconds float64) Zone {
	n := int(seconds * float64(sampleRate))
	data := make([]float32, max(n, 0))
	freq := MIDIToFreq(root)
	decay := 5.0 / math.Max(seconds, 1e-3)
	for i := range data {
		t := float64(i) / float64(sampleRate)
		v := math.Sin(twoPi*freq*t) + 0.3*math.Sin(2*twoPi*freq*t)
		data[i] = float32(0.75 * v * math.Exp(-decay*t))
	}
	return Zone{Root: root, Data: data, SampleRate: sampleRate}
}
