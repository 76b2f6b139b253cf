package instrument

import (
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/notesched/internal/voice"
)

// Sink receives timestamped note commands for the voices an instrument
// allocates. render.Channel is the sounding implementation.
type Sink interface {
	NoteOn(at float64, id, pitch int, velocity float64)
	NoteOff(at float64, id int)
	Kill(at float64, id int)
	// Cancel drops commands for id that have not taken effect yet.
	Cancel(id int)
}

type nopSink struct{}

func (nopSink) NoteOn(float64, int, int, float64) {}
func (nopSink) NoteOff(float64, int)              {}
func (nopSink) Kill(float64, int)                 {}
func (nopSink) Cancel(int)                        {}

// voiceID packs a handle into a sink id that is unique per allocation, so a
// command addressed to a stolen voice never reaches its successor.
func voiceID(h voice.Handle) int {
	return int(h.Gen)<<16 | (h.Slot & 0xFFFF)
}

const (
	DefaultVoices         = 16
	DefaultOneShotSeconds = 0.25
	DefaultReleaseTail    = 0.2
)

type Option func(*config)

type config struct {
	name      string
	voices    int
	maxVoices int
	oneShot   float64
	tail      float64
	log       logrus.FieldLogger
}

func defaultConfig() config {
	return config{
		voices:  DefaultVoices,
		oneShot: DefaultOneShotSeconds,
		tail:    DefaultReleaseTail,
		log:     logrus.StandardLogger(),
	}
}

// WithName labels the instrument in logs.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithVoices sets the initial polyphony.
func WithVoices(n int) Option {
	return func(c *config) { c.voices = n }
}

// WithMaxVoices lets the voice pool grow up to n before stealing.
func WithMaxVoices(n int) Option {
	return func(c *config) { c.maxVoices = n }
}

// WithOneShotSeconds sets how long a one-shot note sounds before it is
// released automatically.
func WithOneShotSeconds(s float64) Option {
	return func(c *config) { c.oneShot = s }
}

// WithReleaseTail sets how long a released voice keeps its slot.
func WithReleaseTail(s float64) Option {
	return func(c *config) { c.tail = s }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) { c.log = log }
}

type timerKind uint8

const (
	timerRelease timerKind = iota // one-shot auto release
	timerFree                     // natural end of the sound
)

type timer struct {
	at   float64
	h    voice.Handle
	kind timerKind
}

// poly is the voice bookkeeping shared by the built-in instruments.
type poly struct {
	mu      sync.Mutex
	cfg     config
	pool    *voice.Pool
	sink    Sink
	timers  []timer
	stealAt float64
}

func newPoly(sink Sink, opts []Option) *poly {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.voices <= 0 {
		cfg.voices = DefaultVoices
	}
	if sink == nil {
		sink = nopSink{}
	}
	p := &poly{cfg: cfg, sink: sink}
	log := cfg.log
	if cfg.name != "" {
		log = log.WithField("instrument", cfg.name)
	}
	p.cfg.log = log
	p.pool = voice.NewPool(cfg.voices,
		voice.WithMaxVoices(cfg.maxVoices),
		voice.WithLogger(log),
		voice.WithOnSteal(p.onSteal),
	)
	return p
}

// onSteal runs with p.mu held, before the victim's slot is reused.
func (p *poly) onSteal(victim voice.Voice) {
	id := voiceID(victim.Handle)
	p.sink.Cancel(id)
	p.sink.Kill(p.stealAt, id)
	p.dropTimers(victim.Handle)
}

func (p *poly) allocate(pitch int, velocity, at float64) voice.Handle {
	p.stealAt = at
	h := p.pool.Allocate(pitch, at)
	p.sink.NoteOn(at, voiceID(h), pitch, velocity)
	return h
}

func (p *poly) addTimer(t timer) {
	i := sort.Search(len(p.timers), func(i int) bool { return p.timers[i].at > t.at })
	p.timers = append(p.timers, timer{})
	copy(p.timers[i+1:], p.timers[i:])
	p.timers[i] = t
}

func (p *poly) dropTimers(h voice.Handle) {
	p.timers = lo.Reject(p.timers, func(t timer, _ int) bool { return t.h == h })
}

func (p *poly) Release(pitch int, at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.pool.Release(pitch, at); ok {
		p.sink.NoteOff(at, voiceID(h))
	}
}

// ReleaseAll releases every voice at time at. Voices that have not started
// yet are cancelled outright.
func (p *poly) ReleaseAll(at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.pool.Snapshot() {
		id := voiceID(v.Handle)
		p.sink.Cancel(id)
		switch {
		case v.StartTime > at:
			p.pool.Free(v.Handle)
		case v.State == voice.Active:
			p.pool.ReleaseHandle(v.Handle, at)
			p.sink.NoteOff(at, id)
		default:
			p.sink.NoteOff(at, id)
		}
	}
	p.timers = p.timers[:0]
}

// Advance applies due timers and frees voices whose release tail is over.
func (p *poly) Advance(now float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for n < len(p.timers) && p.timers[n].at <= now {
		t := p.timers[n]
		switch t.kind {
		case timerRelease:
			p.pool.ReleaseHandle(t.h, t.at)
		case timerFree:
			p.pool.Free(t.h)
		}
		n++
	}
	if n > 0 {
		p.timers = append(p.timers[:0], p.timers[n:]...)
	}
	p.pool.Reap(now, p.cfg.tail)
}

// Idle reports whether no voice is allocated and no timer is pending.
func (p *poly) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers) == 0 && p.pool.Sounding() == 0
}

// Voices returns a snapshot of the voices that are not free.
func (p *poly) Voices() []voice.Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Snapshot()
}

func (p *poly) String() string {
	if p.cfg.name != "" {
		return p.cfg.name
	}
	return "instrument"
}
