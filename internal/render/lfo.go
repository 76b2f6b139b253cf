package render

import "math"

// LFO shapes.
const (
	ShapeTriangle = iota
	ShapeSaw
	ShapeSquare
	ShapeSine
)

// LFO is a per-sample low-frequency oscillator shared by all voices of an
// engine. Output is in [-depth, +depth].
type LFO struct {
	depth  float64
	rateHz float64
	shape  int
	phase  float64 // [0, 1)
}

func (l *LFO) Set(depth, rateHz float64, shape int) {
	if shape < ShapeTriangle || shape > ShapeSine {
		shape = ShapeTriangle
	}
	l.depth = depth
	l.rateHz = rateHz
	l.shape = shape
}

// Sample advances the LFO by one frame. It returns 0 while depth or rate is
// zero.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate <= 0 {
		return 0
	}
	v := shapeAt(l.shape, l.phase)
	l.phase += l.rateHz / sampleRate
	for l.phase >= 1 {
		l.phase--
	}
	return v * l.depth
}

// shapeAt evaluates one cycle of shape at phase in [0, 1).
func shapeAt(shape int, phase float64) float64 {
	switch shape {
	case ShapeSaw:
		return 1 - 2*phase
	case ShapeSquare:
		if phase >= 0.5 {
			return -1
		}
		return 1
	case ShapeSine:
		return math.Sin(twoPi * phase)
	}
	if phase < 0.5 {
		return 4*phase - 1
	}
	return 3 - 4*phase
}

func (l *LFO) Active() bool { return l.depth != 0 && l.rateHz != 0 }

func (l *LFO) Reset() { l.phase = 0 }
