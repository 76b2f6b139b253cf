package note

import (
	"math"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidPitchFormat is returned for pitch names that do not match
// <letter>[#|b]<octave>, e.g. "C4", "F#3", "Bb-1".
var ErrInvalidPitchFormat = errors.New("invalid pitch format")

var pitchNameRe = regexp.MustCompile(`^([A-G][#b]?)(-?\d+)$`)

var semitones = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// ParsePitchName converts a note name to a MIDI note number with C4 = 60.
// Names outside the MIDI range are clamped to 0..127.
func ParsePitchName(name string) (int, error) {
	m := pitchNameRe.FindStringSubmatch(name)
	if m == nil {
		return MiddleC, errors.Wrapf(ErrInvalidPitchFormat, "%q", name)
	}
	semi := semitones[m[1][0]]
	if len(m[1]) == 2 {
		switch m[1][1] {
		case '#':
			semi++
		case 'b':
			semi--
		}
	}
	octave, err := strconv.Atoi(m[2])
	if err != nil {
		return MiddleC, errors.Wrapf(ErrInvalidPitchFormat, "%q", name)
	}
	return clampInt((octave+1)*12+semi, 0, 127), nil
}

// PitchToNumber rounds and clamps a numeric pitch. It never fails.
func PitchToNumber(n float64) int {
	if math.IsNaN(n) {
		return MiddleC
	}
	return clampInt(int(math.Round(clamp(n, -1, 128))), 0, 127)
}

var names = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Name formats a MIDI note number as a sharp-spelled name ("C4" for 60).
func Name(midi int) string {
	midi = clampInt(midi, 0, 127)
	return names[midi%12] + strconv.Itoa(midi/12-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
