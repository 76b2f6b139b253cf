package note

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/timeconv"
)

// ErrInvalidLength is returned for non-positive step lengths.
var ErrInvalidLength = errors.New("invalid step length")

// NormalizeError lists the fields of a record that fell back to defaults.
// The event returned alongside it is still playable.
type NormalizeError struct {
	Errs []error
}

func (e *NormalizeError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "note: " + strings.Join(msgs, "; ")
}

func (e *NormalizeError) Unwrap() []error { return e.Errs }

// Normalize resolves raw into a CanonicalNoteEvent under tempo, anchoring its
// onset at sessionStart. Pitch, duration and length problems are recovered
// with middle C and a one-step duration; the returned error, when non-nil, is
// a *NormalizeError describing what was substituted.
func Normalize(raw RawNoteEvent, sessionStart float64, tempo timeconv.Tempo) (CanonicalNoteEvent, error) {
	var errs []error
	ev := CanonicalNoteEvent{Instrument: raw.Instrument}

	pitch, err := normalizePitch(raw.Pitch)
	if err != nil {
		errs = append(errs, err)
	}
	ev.MIDIPitch = pitch
	ev.VelocityUnit = normalizeVelocity(raw.Velocity)

	dur, err := normalizeDuration(raw, tempo)
	if err != nil {
		errs = append(errs, err)
	}
	ev.DurationSeconds = dur

	offset := raw.Time
	if raw.TimeUnit == TimeSteps {
		offset = tempo.Steps(raw.Time)
	}
	if offset < 0 || math.IsNaN(offset) {
		offset = 0
	}
	ev.OnsetSeconds = math.Max(sessionStart, 0) + offset

	if len(errs) > 0 {
		return ev, &NormalizeError{Errs: errs}
	}
	return ev, nil
}

func normalizePitch(p Pitch) (int, error) {
	switch p.kind {
	case pitchNumber:
		return PitchToNumber(p.number), nil
	case pitchName:
		return ParsePitchName(p.name)
	}
	return MiddleC, errors.Wrap(ErrInvalidPitchFormat, "missing pitch")
}

func normalizeVelocity(v Velocity) float64 {
	switch v.kind {
	case velocityInt:
		return clamp(v.value/127.0, 0, 1)
	case velocityUnit:
		if math.IsNaN(v.value) {
			return 0
		}
		return clamp(v.value, 0, 1)
	}
	return DefaultVelocity / 127.0
}

// normalizeDuration applies the length-over-duration precedence.
func normalizeDuration(raw RawNoteEvent, tempo timeconv.Tempo) (float64, error) {
	oneStep := tempo.Steps(1)
	if raw.Length != nil {
		if *raw.Length <= 0 {
			return oneStep, errors.Wrapf(ErrInvalidLength, "%d", *raw.Length)
		}
		return tempo.Steps(float64(*raw.Length)), nil
	}
	if strings.TrimSpace(raw.Duration) == "" {
		return oneStep, nil
	}
	secs, err := tempo.Symbolic(raw.Duration)
	if err != nil {
		return oneStep, err
	}
	return secs, nil
}
