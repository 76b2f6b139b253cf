// Package timeconv maps musical time (steps, beats, symbolic note values) onto
// seconds for a given tempo. Every function is pure.
package timeconv

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TriggerToken marks a one-shot note with no scheduled release.
const TriggerToken = "trigger"

// BeatsPerMeasure is the measure length used by "<n>m" tokens (4/4 time).
const BeatsPerMeasure = 4

// ErrInvalidDurationToken is returned for symbolic durations that cannot be parsed.
var ErrInvalidDurationToken = errors.New("invalid duration token")

// StepsToSeconds converts a step count to seconds:
// (steps / stepsPerBeat) * (60 / tempoBPM).
// A non-positive tempo or steps-per-beat yields 0.
func StepsToSeconds(steps, tempoBPM, stepsPerBeat float64) float64 {
	if tempoBPM <= 0 || stepsPerBeat <= 0 {
		return 0
	}
	return (steps / stepsPerBeat) * (60.0 / tempoBPM)
}

// BeatsToSeconds converts quarter-note beats to seconds.
func BeatsToSeconds(beats, tempoBPM float64) float64 {
	if tempoBPM <= 0 {
		return 0
	}
	return beats * 60.0 / tempoBPM
}

// SecondsToSteps is the inverse of StepsToSeconds.
func SecondsToSteps(seconds, tempoBPM, stepsPerBeat float64) float64 {
	if tempoBPM <= 0 || stepsPerBeat <= 0 {
		return 0
	}
	return seconds * tempoBPM / 60.0 * stepsPerBeat
}

// SymbolicToSeconds resolves a symbolic note value to seconds.
//
// Accepted forms:
//
//	"4n"      quarter note (4/divisor beats)
//	"8t"      eighth-note triplet (2/3 of "8n")
//	"4n."     dotted quarter (1.5 x "4n")
//	"2m"      two measures of 4 beats
//	"trigger" one-shot, 0 seconds
func SymbolicToSeconds(token string, tempoBPM float64) (float64, error) {
	beats, err := SymbolicToBeats(token)
	if err != nil {
		return 0, err
	}
	return BeatsToSeconds(beats, tempoBPM), nil
}

// SymbolicToBeats resolves a symbolic note value to quarter-note beats.
func SymbolicToBeats(token string) (float64, error) {
	tok := strings.TrimSpace(token)
	if strings.EqualFold(tok, TriggerToken) {
		return 0, nil
	}
	dotted := strings.HasSuffix(tok, ".")
	tok = strings.TrimSuffix(tok, ".")
	if len(tok) < 2 {
		return 0, errors.Wrapf(ErrInvalidDurationToken, "%q", token)
	}
	unit := tok[len(tok)-1]
	n, err := strconv.Atoi(tok[:len(tok)-1])
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(ErrInvalidDurationToken, "%q", token)
	}
	var beats float64
	switch unit {
	case 'n':
		beats = 4.0 / float64(n)
	case 't':
		beats = 4.0 / float64(n) * 2.0 / 3.0
	case 'm':
		beats = float64(n * BeatsPerMeasure)
	default:
		return 0, errors.Wrapf(ErrInvalidDurationToken, "%q", token)
	}
	if dotted {
		beats *= 1.5
	}
	return beats, nil
}

// Tempo is a snapshot of the transport settings a conversion runs under.
type Tempo struct {
	BPM          float64
	StepsPerBeat float64
}

// Steps converts a step count under t.
func (t Tempo) Steps(steps float64) float64 {
	return StepsToSeconds(steps, t.BPM, t.StepsPerBeat)
}

// Symbolic converts a symbolic note value under t.
func (t Tempo) Symbolic(token string) (float64, error) {
	return SymbolicToSeconds(token, t.BPM)
}
