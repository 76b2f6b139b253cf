// Package note defines the raw note records produced by timeline sources and
// the canonical event the scheduler consumes.
package note

// TimeUnit says how RawNoteEvent.Time is measured.
type TimeUnit int

const (
	TimeSteps TimeUnit = iota
	TimeSeconds
)

func (u TimeUnit) String() string {
	if u == TimeSeconds {
		return "seconds"
	}
	return "steps"
}

// MiddleC is substituted for pitches that cannot be parsed.
const MiddleC = 60

// DefaultVelocity is used when a record carries no velocity.
const DefaultVelocity = 100

type pitchKind uint8

const (
	pitchUnset pitchKind = iota
	pitchNumber
	pitchName
)

// Pitch is either a MIDI note number or a note name such as "C4" or "F#3".
type Pitch struct {
	kind   pitchKind
	number float64
	name   string
}

// PitchNumber returns a numeric pitch. Fractional values are rounded during
// normalization.
func PitchNumber(n float64) Pitch { return Pitch{kind: pitchNumber, number: n} }

// PitchName returns a named pitch.
func PitchName(name string) Pitch { return Pitch{kind: pitchName, name: name} }

func (p Pitch) IsName() bool { return p.kind == pitchName }
func (p Pitch) IsSet() bool { return p.kind != pitchUnset }

func (p Pitch) String() string {
	switch p.kind {
	case pitchName:
		return p.name
	case pitchNumber:
		return formatFloat(p.number)
	}
	return "<unset>"
}

type velocityKind uint8

const (
	velocityUnset velocityKind = iota
	velocityInt
	velocityUnit
)

// Velocity is either a MIDI-style integer (0-127) or a unit float (0.0-1.0).
// The two are told apart by how they were written, not by magnitude: integer 1
// means 1/127 while unit 1.0 means full scale.
type Velocity struct {
	kind  velocityKind
	value float64
}

func VelocityInt(v int) Velocity { return Velocity{kind: velocityInt, value: float64(v)} }
func VelocityUnit(v float64) Velocity { return Velocity{kind: velocityUnit, value: v} }
func (v Velocity) IsSet() bool { return v.kind != velocityUnset }
func (v Velocity) IsUnit() bool { return v.kind == velocityUnit }

// RawNoteEvent is a note as a timeline source produced it. Exactly one of
// Length and Duration is expected; when both are present Length wins, and
// when neither is the note lasts one step.
type RawNoteEvent struct {
	Time       float64
	TimeUnit   TimeUnit
	Pitch      Pitch
	Velocity   Velocity
	Length     *int   // step count
	Duration   string // symbolic value, e.g. "4n" or "trigger"
	Instrument string // routing id, empty for the session default
}

// Steps returns a Length value for literal records.
func Steps(n int) *int { return &n }

// CanonicalNoteEvent is a note with every field resolved to final units.
type CanonicalNoteEvent struct {
	OnsetSeconds    float64
	MIDIPitch       int
	VelocityUnit    float64
	DurationSeconds float64 // 0 = one-shot, no scheduled release
	Instrument      string
	Seq             int // position in the source timeline
}

// OneShot reports whether the event has no scheduled release.
func (e CanonicalNoteEvent) OneShot() bool { return e.DurationSeconds <= 0 }

// EndSeconds is the scheduled release time (equal to the onset for one-shots).
func (e CanonicalNoteEvent) EndSeconds() float64 { return e.OnsetSeconds + e.DurationSeconds }
