// Package transport holds the session-wide musical settings (tempo, steps per
// beat, loop region) and the audio clock they are measured against.
package transport

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/timeconv"
)

const (
	MinTempo            = 20
	MaxTempo            = 300
	DefaultTempo        = 120
	DefaultStepsPerBeat = 4
)

var (
	ErrInvalidStepsPerBeat = errors.New("steps per beat must be positive")
	ErrInvalidLoop         = errors.New("invalid loop region")
)

// Clock reports the session's audio time in seconds.
type Clock interface {
	Now() float64
}

// Loop is a region [StartStep, EndStep) in steps.
type Loop struct {
	StartStep float64
	EndStep   float64
}

// Steps returns the loop length in steps.
func (l Loop) Steps() float64 { return l.EndStep - l.StartStep }

// Contains reports whether step lies inside the region.
func (l Loop) Contains(step float64) bool {
	return step >= l.StartStep && step < l.EndStep
}

type Option func(*Transport)

func WithTempo(bpm float64) Option {
	return func(t *Transport) { t.bpm = clampTempo(bpm) }
}

func WithStepsPerBeat(n float64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.stepsPerBeat = n
		}
	}
}

// Transport is safe for concurrent use. It changes only through explicit
// calls.
type Transport struct {
	mu           sync.RWMutex
	bpm          float64
	stepsPerBeat float64
	clock        Clock
	loop         *Loop
}

// New returns a transport reading time from clock. A nil clock means a
// wall clock started now.
func New(clock Clock, opts ...Option) *Transport {
	if clock == nil {
		clock = NewWallClock()
	}
	t := &Transport{
		bpm:          DefaultTempo,
		stepsPerBeat: DefaultStepsPerBeat,
		clock:        clock,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTempo sets the tempo, clamped to MinTempo..MaxTempo, and returns the
// value applied. NaN is ignored.
func (t *Transport) SetTempo(bpm float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !math.IsNaN(bpm) {
		t.bpm = clampTempo(bpm)
	}
	return t.bpm
}

func (t *Transport) Tempo() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bpm
}

func (t *Transport) SetStepsPerBeat(n float64) error {
	if !(n > 0) {
		return errors.Wrapf(ErrInvalidStepsPerBeat, "%v", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepsPerBeat = n
	return nil
}

func (t *Transport) StepsPerBeat() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stepsPerBeat
}

// Snapshot returns the tempo settings conversions should run under.
func (t *Transport) Snapshot() timeconv.Tempo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return timeconv.Tempo{BPM: t.bpm, StepsPerBeat: t.stepsPerBeat}
}

// CurrentSeconds reads the audio clock.
func (t *Transport) CurrentSeconds() float64 {
	return t.clock.Now()
}

// SetLoop sets the loop region in steps. end must be greater than start and
// start must not be negative.
func (t *Transport) SetLoop(start, end float64) error {
	if start < 0 || !(end > start) {
		return errors.Wrapf(ErrInvalidLoop, "[%v, %v)", start, end)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = &Loop{StartStep: start, EndStep: end}
	return nil
}

func (t *Transport) ClearLoop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = nil
}

// Loop returns the loop region, if one is set.
func (t *Transport) Loop() (Loop, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.loop == nil {
		return Loop{}, false
	}
	return *t.loop, true
}

func clampTempo(bpm float64) float64 {
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

// ManualClock is a Clock moved by hand, for tests and offline rendering.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = seconds
}

func (c *ManualClock) Advance(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

// WallClock measures seconds since it was created. It serves sessions with
// no audio output, such as MIDI-only playback.
type WallClock struct {
	start time.Time
	now   func() time.Time
}

func NewWallClock() *WallClock {
	return newWallClock(time.Now)
}

func newWallClock(now func() time.Time) *WallClock {
	return &WallClock{start: now(), now: now}
}

func (c *WallClock) Now() float64 {
	return c.now().Sub(c.start).Seconds()
}
