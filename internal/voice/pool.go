// Package voice tracks the polyphony of a single instrument: which pitches are
// sounding, since when, and which slot to reuse when the pool is full.
//
// A Pool is not safe for concurrent use; the owning instrument serializes
// access.
package voice

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ErrVoicePoolExhausted describes the condition that forces a steal. Allocate
// never returns it; it only shows up in debug logs.
var ErrVoicePoolExhausted = errors.New("voice pool exhausted")

type State uint8

const (
	Free State = iota
	Active
	Releasing
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Releasing:
		return "releasing"
	}
	return "free"
}

// Handle names one allocation of one slot. Once the slot is reused the old
// handle goes stale and every operation on it is ignored.
type Handle struct {
	Slot int
	Gen  uint32
}

// NoHandle is returned by instruments that did not allocate a voice.
var NoHandle = Handle{Slot: -1}

func (h Handle) Valid() bool { return h.Slot >= 0 }

// Voice is a snapshot of one slot.
type Voice struct {
	Handle      Handle
	Pitch       int
	StartTime   float64
	ReleaseTime float64 // meaningful only while Releasing
	State       State
}

// StealFunc is called with the victim before its slot is handed out again.
type StealFunc func(victim Voice)

type Option func(*Pool)

// WithMaxVoices lets the pool grow past its initial size up to n slots before
// stealing.
func WithMaxVoices(n int) Option {
	return func(p *Pool) { p.max = n }
}

// WithOnSteal registers a callback that fires when a voice is stolen.
func WithOnSteal(fn StealFunc) Option {
	return func(p *Pool) { p.onSteal = fn }
}

// WithLogger sets the logger used for steal diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pool) { p.log = log }
}

type Pool struct {
	voices  []Voice
	max     int
	onSteal StealFunc
	log     logrus.FieldLogger
	steals  int
}

// NewPool returns a pool with size slots. size is raised to 1.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{max: size, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	if p.max < size {
		p.max = size
	}
	p.voices = make([]Voice, size)
	for i := range p.voices {
		p.voices[i].Handle = Handle{Slot: i}
	}
	return p
}

// Allocate marks a voice Active for pitch at time at and returns its handle.
// It always succeeds: a free slot is used first, then the pool grows up to
// its maximum, then the oldest Active voice is stolen. When every voice is
// already Releasing the oldest release is cut short instead.
func (p *Pool) Allocate(pitch int, at float64) Handle {
	slot := p.freeSlot()
	if slot < 0 && len(p.voices) < p.max {
		p.voices = append(p.voices, Voice{Handle: Handle{Slot: len(p.voices)}})
		slot = len(p.voices) - 1
	}
	if slot < 0 {
		slot = p.victim()
		victim := p.voices[slot]
		p.steals++
		p.log.WithFields(logrus.Fields{
			"pitch":  victim.Pitch,
			"state":  victim.State.String(),
			"voices": len(p.voices),
		}).WithError(ErrVoicePoolExhausted).Debug("stealing voice")
		if p.onSteal != nil {
			p.onSteal(victim)
		}
	}
	v := &p.voices[slot]
	v.Handle.Gen++
	v.Pitch = pitch
	v.StartTime = at
	v.ReleaseTime = 0
	v.State = Active
	return v.Handle
}

func (p *Pool) freeSlot() int {
	for i := range p.voices {
		if p.voices[i].State == Free {
			return i
		}
	}
	return -1
}

// victim picks the oldest Active voice, ties broken by the lower pitch. If no
// voice is Active it picks the voice that entered its release first.
func (p *Pool) victim() int {
	best := -1
	for i := range p.voices {
		v := &p.voices[i]
		if v.State != Active {
			continue
		}
		if best < 0 || older(v, &p.voices[best]) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i := 1; i < len(p.voices); i++ {
		a, b := &p.voices[i], &p.voices[best]
		if a.ReleaseTime < b.ReleaseTime || (a.ReleaseTime == b.ReleaseTime && older(a, b)) {
			best = i
		}
	}
	return best
}

func older(a, b *Voice) bool {
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.Pitch < b.Pitch
}

func (p *Pool) lookup(h Handle) *Voice {
	if h.Slot < 0 || h.Slot >= len(p.voices) {
		return nil
	}
	v := &p.voices[h.Slot]
	if v.Handle.Gen != h.Gen || v.State == Free {
		return nil
	}
	return v
}

// Get returns the voice behind h if the handle is still current.
func (p *Pool) Get(h Handle) (Voice, bool) {
	if v := p.lookup(h); v != nil {
		return *v, true
	}
	return Voice{}, false
}

// Free returns the voice to the pool. Stale handles are ignored.
func (p *Pool) Free(h Handle) bool {
	v := p.lookup(h)
	if v == nil {
		return false
	}
	v.State = Free
	return true
}

// Release marks the oldest Active voice playing pitch as Releasing. It
// reports the released handle, or false when nothing matched.
func (p *Pool) Release(pitch int, at float64) (Handle, bool) {
	best := -1
	for i := range p.voices {
		v := &p.voices[i]
		if v.State != Active || v.Pitch != pitch {
			continue
		}
		if best < 0 || v.StartTime < p.voices[best].StartTime {
			best = i
		}
	}
	if best < 0 {
		return NoHandle, false
	}
	v := &p.voices[best]
	v.State = Releasing
	v.ReleaseTime = at
	return v.Handle, true
}

// ReleaseHandle moves one specific voice into its release phase.
func (p *Pool) ReleaseHandle(h Handle, at float64) bool {
	v := p.lookup(h)
	if v == nil || v.State != Active {
		return false
	}
	v.State = Releasing
	v.ReleaseTime = at
	return true
}

// ReleaseAll releases every Active voice and returns their handles.
func (p *Pool) ReleaseAll(at float64) []Handle {
	var out []Handle
	for i := range p.voices {
		v := &p.voices[i]
		if v.State != Active {
			continue
		}
		v.State = Releasing
		v.ReleaseTime = at
		out = append(out, v.Handle)
	}
	return out
}

// Reap frees the Releasing voices whose release started at least tail
// seconds before now and returns them.
func (p *Pool) Reap(now, tail float64) []Handle {
	var out []Handle
	for i := range p.voices {
		v := &p.voices[i]
		if v.State == Releasing && v.ReleaseTime+tail <= now {
			v.State = Free
			out = append(out, v.Handle)
		}
	}
	return out
}

// ActiveCount is the number of voices that are Active (not releasing).
func (p *Pool) ActiveCount() int {
	return lo.CountBy(p.voices, func(v Voice) bool { return v.State == Active })
}

// Sounding is the number of voices that are not Free.
func (p *Pool) Sounding() int {
	return lo.CountBy(p.voices, func(v Voice) bool { return v.State != Free })
}

// Len is the current number of slots.
func (p *Pool) Len() int { return len(p.voices) }

// Steals counts how many allocations had to take a busy voice.
func (p *Pool) Steals() int { return p.steals }

// Snapshot copies the voices that are not Free.
func (p *Pool) Snapshot() []Voice {
	return lo.Filter(p.voices, func(v Voice, _ int) bool { return v.State != Free })
}
