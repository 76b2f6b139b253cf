package note

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// UnmarshalJSON accepts a MIDI number or a note name.
func (p *Pitch) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = Pitch{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.Wrap(err, "pitch")
		}
		*p = PitchName(strings.TrimSpace(s))
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "pitch")
	}
	*p = PitchNumber(n)
	return nil
}

func (p Pitch) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case pitchName:
		return json.Marshal(p.name)
	case pitchNumber:
		return json.Marshal(p.number)
	}
	return []byte("null"), nil
}

// UnmarshalJSON treats numbers written with a fraction or exponent as unit
// floats and everything else as MIDI integers, so 1 and 1.0 differ.
func (v *Velocity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = Velocity{}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "velocity")
	}
	if bytes.ContainsAny(b, ".eE") {
		*v = VelocityUnit(n)
	} else {
		*v = Velocity{kind: velocityInt, value: n}
	}
	return nil
}

func (v Velocity) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case velocityUnit:
		s := formatFloat(v.value)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case velocityInt:
		return []byte(formatFloat(v.value)), nil
	}
	return []byte("null"), nil
}

func (u *TimeUnit) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "time unit")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "steps", "step":
		*u = TimeSteps
	case "seconds", "second", "s":
		*u = TimeSeconds
	default:
		return errors.Errorf("unknown time unit %q", s)
	}
	return nil
}

func (u TimeUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

type rawNoteJSON struct {
	Time       float64  `json:"time"`
	Unit       TimeUnit `json:"unit,omitempty"`
	Pitch      Pitch    `json:"pitch"`
	Velocity   Velocity `json:"velocity"`
	Length     *int     `json:"length,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	Instrument string   `json:"instrument,omitempty"`
}

func (r *RawNoteEvent) UnmarshalJSON(b []byte) error {
	var j rawNoteJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*r = RawNoteEvent{
		Time:       j.Time,
		TimeUnit:   j.Unit,
		Pitch:      j.Pitch,
		Velocity:   j.Velocity,
		Length:     j.Length,
		Duration:   j.Duration,
		Instrument: j.Instrument,
	}
	return nil
}

func (r RawNoteEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawNoteJSON{
		Time:       r.Time,
		Unit:       r.TimeUnit,
		Pitch:      r.Pitch,
		Velocity:   r.Velocity,
		Length:     r.Length,
		Duration:   r.Duration,
		Instrument: r.Instrument,
	})
}
