// Package instrument defines the trigger/release contract the scheduler drives
// and the built-in instruments that implement it.
package instrument

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/voice"
)

// ErrUnschedulableInstrument is returned by Check for values that cannot be
// driven by the scheduler.
var ErrUnschedulableInstrument = errors.New("unschedulable instrument")

// Instrument is the contract every playable target satisfies. Times are
// seconds on the session's audio clock and may lie slightly in the future.
type Instrument interface {
	// Trigger starts pitch at time at. A duration of 0 marks a one-shot
	// that will not receive a Release.
	Trigger(pitch int, velocity, at, duration float64) voice.Handle
	// Release ends the oldest sounding voice of pitch. Releasing a pitch
	// that is not sounding does nothing.
	Release(pitch int, at float64)
}

// Advancer is implemented by instruments with time-driven housekeeping. The
// scheduler calls Advance once per pass with the current clock.
type Advancer interface {
	Advance(now float64)
}

// AllReleaser is implemented by instruments that can silence everything at
// once. The scheduler prefers it when stopping.
type AllReleaser interface {
	ReleaseAll(at float64)
}

// Idler is implemented by instruments that keep working after their last
// action, such as a release tail or queued device output.
type Idler interface {
	Idle() bool
}

// Check verifies that v can be scheduled.
func Check(v any) (Instrument, error) {
	if v == nil {
		return nil, errors.Wrap(ErrUnschedulableInstrument, "nil instrument")
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, errors.Wrapf(ErrUnschedulableInstrument, "nil %T", v)
	}
	inst, ok := v.(Instrument)
	if !ok {
		return nil, errors.Wrapf(ErrUnschedulableInstrument, "%T has no Trigger/Release", v)
	}
	return inst, nil
}

// Describe returns a short label for logs.
func Describe(inst Instrument) string {
	if s, ok := inst.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", inst)
}
