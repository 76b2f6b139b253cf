package render

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

type commandKind uint8

const (
	cmdNoteOn commandKind = iota
	cmdNoteOff
	cmdKill
)

type command struct {
	frame    int64
	engine   int
	kind     commandKind
	id       int
	pitch    int
	velocity float64
}

// Mixer sums its engines into interleaved stereo and applies note commands at
// the frame matching their timestamp. The number of frames rendered so far is
// the session's audio clock.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	engines    []Engine
	pending    []command
	frames     atomic.Int64
	gain       uint64
	tap        func([]float32)
}

func NewMixer(sampleRate int) *Mixer {
	m := &Mixer{sampleRate: sampleRate}
	m.SetGain(1)
	return m
}

// Channel schedules commands for one engine of a Mixer.
type Channel struct {
	m      *Mixer
	engine int
}

// Add registers e and returns the channel instruments use to drive it.
func (m *Mixer) Add(e Engine) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines = append(m.engines, e)
	return &Channel{m: m, engine: len(m.engines) - 1}
}

// NoteOn starts voice id at time at (seconds on the mixer clock).
func (c *Channel) NoteOn(at float64, id, pitch int, velocity float64) {
	c.m.schedule(command{frame: c.m.frameAt(at), engine: c.engine, kind: cmdNoteOn, id: id, pitch: pitch, velocity: velocity})
}

// NoteOff starts the release of voice id at time at.
func (c *Channel) NoteOff(at float64, id int) {
	c.m.schedule(command{frame: c.m.frameAt(at), engine: c.engine, kind: cmdNoteOff, id: id})
}

// Kill silences voice id at time at without a release tail.
func (c *Channel) Kill(at float64, id int) {
	c.m.schedule(command{frame: c.m.frameAt(at), engine: c.engine, kind: cmdKill, id: id})
}

// Cancel drops every queued command for voice id. Commands already applied
// are not undone.
func (c *Channel) Cancel(id int) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	kept := c.m.pending[:0]
	for _, cmd := range c.m.pending {
		if cmd.engine == c.engine && cmd.id == id {
			continue
		}
		kept = append(kept, cmd)
	}
	c.m.pending = kept
}

func (m *Mixer) frameAt(at float64) int64 {
	if at <= 0 || math.IsNaN(at) {
		return 0
	}
	return int64(math.Round(at * float64(m.sampleRate)))
}

// schedule inserts c after every command due at the same frame so commands
// issued in order are applied in order.
func (m *Mixer) schedule(c command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].frame > c.frame })
	m.pending = append(m.pending, command{})
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = c
}

// Now returns the audio clock in seconds.
func (m *Mixer) Now() float64 {
	if m.sampleRate <= 0 {
		return 0
	}
	return float64(m.frames.Load()) / float64(m.sampleRate)
}

// Frames returns the number of frames rendered so far.
func (m *Mixer) Frames() int64 { return m.frames.Load() }

func (m *Mixer) SampleRate() int { return m.sampleRate }

// SetGain sets the output gain atomically.
func (m *Mixer) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&m.gain, math.Float64bits(gain))
}

func (m *Mixer) Gain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.gain))
}

// SetTap installs a callback invoked with each rendered buffer. It runs on
// the audio goroutine.
func (m *Mixer) SetTap(tap func([]float32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = tap
}

// Process renders len(dst)/2 interleaved stereo frames.
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gain := float32(m.Gain())
	frame := m.frames.Load()
	for i := 0; i+1 < len(dst); i += 2 {
		m.applyDue(frame)
		var l, r float32
		for _, e := range m.engines {
			el, er := e.RenderFrame()
			l += el
			r += er
		}
		dst[i] = clamp32(l * gain)
		dst[i+1] = clamp32(r * gain)
		frame++
		m.frames.Store(frame)
	}
	if m.tap != nil {
		m.tap(dst)
	}
}

func (m *Mixer) applyDue(frame int64) {
	n := 0
	for n < len(m.pending) && m.pending[n].frame <= frame {
		c := m.pending[n]
		e := m.engines[c.engine]
		switch c.kind {
		case cmdNoteOn:
			e.NoteOn(c.id, c.pitch, c.velocity)
		case cmdNoteOff:
			e.NoteOff(c.id)
		case cmdKill:
			e.Kill(c.id)
		}
		n++
	}
	if n > 0 {
		m.pending = append(m.pending[:0], m.pending[n:]...)
	}
}

// Pending returns the number of commands not yet applied.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ActiveVoiceCount sums the sounding voices of every engine.
func (m *Mixer) ActiveVoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.engines {
		n += e.ActiveVoiceCount()
	}
	return n
}

// Idle reports whether nothing is sounding and nothing is queued.
func (m *Mixer) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) > 0 {
		return false
	}
	for _, e := range m.engines {
		if e.ActiveVoiceCount() > 0 {
			return false
		}
	}
	return true
}

func clamp32(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
