// Package scheduler turns a timeline of note records into trigger and release
// calls on registered instruments, issued slightly ahead of the audio clock.
package scheduler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/notesched/internal/instrument"
	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeconv"
	"github.com/cbegin/notesched/internal/transport"
)

const (
	DefaultLookahead    = 0.1
	DefaultPassInterval = 25 * time.Millisecond
)

var (
	ErrNotRunning      = errors.New("scheduler is not running")
	ErrSessionFinished = errors.New("session finished")
)

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

// EventKind identifies session lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
)

type Options struct {
	// Lookahead is how far ahead of the clock actions are dispatched, in
	// seconds.
	Lookahead float64
	// PassInterval is the period of the Run loop.
	PassInterval time.Duration
	// Loop re-arms the timeline whenever it has been fully dispatched.
	Loop bool
	// DefaultInstrument receives events with an empty instrument id.
	DefaultInstrument string
	OnEvent           func(EventKind)
	Logger            logrus.FieldLogger
}

type actionKind uint8

// Releases sort before triggers at the same instant.
const (
	actRelease actionKind = iota
	actTrigger
)

type action struct {
	at   float64
	kind actionKind
	ev   note.CanonicalNoteEvent
}

func (a action) before(b action) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.kind < b.kind
}

// held is a trigger Stop may have to release. One-shots are kept until the
// session ends, one entry per instrument and pitch.
type held struct {
	instrument string
	pitch      int
	at         float64
	oneShot    bool
}

// Scheduler is safe for concurrent use. Pass runs on one goroutine; Stop,
// Enqueue and Register may be called from any other.
type Scheduler struct {
	mu          sync.Mutex
	transport   *transport.Transport
	opts        Options
	log         logrus.FieldLogger
	instruments map[string]instrument.Instrument

	state    State
	session  string
	queue    []action
	timeline []note.RawNoteEvent
	iterBase float64 // start of the current pass through the timeline
	iterEnd  float64
	lastAt   float64 // latest dispatched action time
	nextSeq  int
	held     []held
	warned   map[string]bool
	done     chan struct{}
	finished bool
}

func New(tr *transport.Transport, opts Options) *Scheduler {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.PassInterval <= 0 {
		opts.PassInterval = DefaultPassInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		transport:   tr,
		opts:        opts,
		log:         opts.Logger,
		instruments: map[string]instrument.Instrument{},
		done:        closedChan(),
		finished:    true,
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Register makes inst reachable under id. It fails with
// instrument.ErrUnschedulableInstrument if inst lacks Trigger/Release.
func (s *Scheduler) Register(id string, inst any) error {
	checked, err := instrument.Check(inst)
	if err != nil {
		return errors.Wrapf(err, "register %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[id] = checked
	delete(s.warned, id)
	return nil
}

// Instruments lists the registered ids in order.
func (s *Scheduler) Instruments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := lo.Keys(s.instruments)
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID identifies the current session in logs.
func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Pending returns the number of actions not yet dispatched.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed once every action of the session has been dispatched and
// the clock has reached the last of them, or when the session is stopped. It
// never closes while looping.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start begins a session at the current clock time. Every event is converted
// with the tempo in effect now; later tempo changes do not move them. A
// running session is stopped first.
func (s *Scheduler) Start(timeline []note.RawNoteEvent) {
	s.mu.Lock()
	var events []EventKind
	if s.state == Running {
		events = s.stopLocked()
	}
	s.session = uuid.NewString()
	s.state = Running
	s.queue = s.queue[:0]
	s.held = s.held[:0]
	s.warned = map[string]bool{}
	s.nextSeq = 0
	s.lastAt = 0
	s.timeline = append([]note.RawNoteEvent(nil), timeline...)
	s.done = make(chan struct{})
	s.finished = false

	now := s.transport.CurrentSeconds()
	tempo := s.transport.Snapshot()
	s.iterBase = now
	if l, ok := s.transport.Loop(); ok && s.opts.Loop {
		// The first pass plays up to the region end, then wraps to its start.
		s.arm(beforeStep(s.timeline, l.EndStep, tempo), now, tempo)
		s.iterEnd = now + tempo.Steps(l.EndStep)
	} else {
		s.iterEnd = now + s.arm(s.timeline, now, tempo)
	}

	s.sessionLog().WithFields(logrus.Fields{
		"events": len(timeline),
		"tempo":  tempo.BPM,
		"loop":   s.opts.Loop,
	}).Info("session started")
	s.mu.Unlock()
	s.fire(events)
}

// Enqueue adds events to the running session. Their times are relative to the
// start of the current pass and are converted with the current tempo.
func (s *Scheduler) Enqueue(raw ...note.RawNoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return ErrNotRunning
	}
	if s.finished {
		return ErrSessionFinished
	}
	s.arm(raw, s.iterBase, s.transport.Snapshot())
	return nil
}

// arm normalizes events against base and queues their actions. It returns the
// time from base to the end of the last note.
func (s *Scheduler) arm(raw []note.RawNoteEvent, base float64, tempo timeconv.Tempo) float64 {
	evs := make([]note.CanonicalNoteEvent, 0, len(raw))
	for _, r := range raw {
		ev, err := note.Normalize(r, base, tempo)
		ev.Seq = s.nextSeq
		s.nextSeq++
		if ev.Instrument == "" {
			ev.Instrument = s.opts.DefaultInstrument
		}
		if err != nil {
			s.sessionLog().WithFields(logrus.Fields{
				"seq":        ev.Seq,
				"instrument": ev.Instrument,
			}).WithError(err).Warn("note recovered with defaults")
		}
		evs = append(evs, ev)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].OnsetSeconds < evs[j].OnsetSeconds })

	end := base
	for _, ev := range evs {
		s.insert(action{at: ev.OnsetSeconds, kind: actTrigger, ev: ev})
		if !ev.OneShot() {
			s.insert(action{at: ev.EndSeconds(), kind: actRelease, ev: ev})
		}
		end = math.Max(end, ev.EndSeconds())
	}
	return end - base
}

// insert places a after every queued action it does not sort before, so
// equal actions keep their insertion order.
func (s *Scheduler) insert(a action) {
	i := sort.Search(len(s.queue), func(i int) bool { return a.before(s.queue[i]) })
	s.queue = append(s.queue, action{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = a
}

// Pass dispatches every action due before now+lookahead, late ones included,
// and lets instruments do their housekeeping. It returns the number of
// actions dispatched.
func (s *Scheduler) Pass() int {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return 0
	}
	now := s.transport.CurrentSeconds()
	n := s.dispatch(now + s.opts.Lookahead)

	var events []EventKind
	if len(s.queue) == 0 && !s.finished {
		if s.opts.Loop && s.rearm() {
			events = append(events, EventLoopCompleted)
			n += s.dispatch(now + s.opts.Lookahead)
		} else if now >= s.lastAt {
			s.finished = true
			close(s.done)
			events = append(events, EventPlaybackEnded)
			s.sessionLog().Info("timeline dispatched")
		}
	}
	advancers := s.advancers()
	s.mu.Unlock()

	for _, a := range advancers {
		a.Advance(now)
	}
	s.fire(events)
	return n
}

func (s *Scheduler) dispatch(horizon float64) int {
	n := 0
	for n < len(s.queue) && s.queue[n].at < horizon {
		s.apply(s.queue[n])
		s.lastAt = math.Max(s.lastAt, s.queue[n].at)
		n++
	}
	if n > 0 {
		s.queue = append(s.queue[:0], s.queue[n:]...)
	}
	return n
}

func (s *Scheduler) apply(a action) {
	ev := a.ev
	inst, ok := s.instruments[ev.Instrument]
	if !ok {
		entry := s.sessionLog().WithFields(logrus.Fields{"seq": ev.Seq, "instrument": ev.Instrument})
		if !s.warned[ev.Instrument] {
			s.warned[ev.Instrument] = true
			entry.Warn("unknown instrument, skipping its events")
		} else {
			entry.Debug("unknown instrument")
		}
		return
	}
	switch a.kind {
	case actTrigger:
		inst.Trigger(ev.MIDIPitch, ev.VelocityUnit, a.at, ev.DurationSeconds)
		h := held{instrument: ev.Instrument, pitch: ev.MIDIPitch, at: a.at, oneShot: ev.OneShot()}
		if _, i, ok := lo.FindIndexOf(s.held, func(o held) bool {
			return o.oneShot && h.oneShot && o.instrument == h.instrument && o.pitch == h.pitch
		}); ok {
			s.held[i] = h
		} else {
			s.held = append(s.held, h)
		}
	case actRelease:
		inst.Release(ev.MIDIPitch, a.at)
		if _, i, ok := lo.FindIndexOf(s.held, func(h held) bool {
			return !h.oneShot && h.instrument == ev.Instrument && h.pitch == ev.MIDIPitch
		}); ok {
			s.held = append(s.held[:i], s.held[i+1:]...)
		}
	}
}

// rearm queues the next pass of the timeline one loop length after the
// current one, converted with the tempo in effect now. With a transport
// loop region only the events inside it repeat.
func (s *Scheduler) rearm() bool {
	tempo := s.transport.Snapshot()
	events := s.timeline
	var length float64
	if l, ok := s.transport.Loop(); ok {
		events = regionEvents(s.timeline, l, tempo)
		length = tempo.Steps(l.Steps())
	}
	if len(events) == 0 {
		return false
	}
	base := s.iterEnd
	end := s.arm(events, base, tempo)
	if length <= 0 {
		length = end
	}
	if length <= 0 {
		length = tempo.Steps(1)
	}
	s.iterBase = base
	s.iterEnd = base + length
	s.sessionLog().WithField("at", base).Debug("loop re-armed")
	return true
}

func eventStep(r note.RawNoteEvent, tempo timeconv.Tempo) float64 {
	if r.TimeUnit == note.TimeSeconds {
		return timeconv.SecondsToSteps(r.Time, tempo.BPM, tempo.StepsPerBeat)
	}
	return r.Time
}

// beforeStep returns the events starting before end.
func beforeStep(timeline []note.RawNoteEvent, end float64, tempo timeconv.Tempo) []note.RawNoteEvent {
	return lo.Filter(timeline, func(r note.RawNoteEvent, _ int) bool { return eventStep(r, tempo) < end })
}

// regionEvents returns the events starting inside l, shifted so the region
// start becomes time zero.
func regionEvents(timeline []note.RawNoteEvent, l transport.Loop, tempo timeconv.Tempo) []note.RawNoteEvent {
	var out []note.RawNoteEvent
	for _, r := range timeline {
		step := eventStep(r, tempo)
		if !l.Contains(step) {
			continue
		}
		r.Time = step - l.StartStep
		r.TimeUnit = note.TimeSteps
		out = append(out, r)
	}
	return out
}

// Stop releases every sounding voice on every instrument at the current
// clock time and discards the remaining actions. No trigger is issued until
// the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	events := s.stopLocked()
	s.mu.Unlock()
	s.fire(events)
}

func (s *Scheduler) stopLocked() []EventKind {
	now := s.transport.CurrentSeconds()
	for id, inst := range s.instruments {
		if r, ok := inst.(instrument.AllReleaser); ok {
			r.ReleaseAll(now)
			continue
		}
		for _, h := range s.held {
			if h.instrument == id {
				inst.Release(h.pitch, math.Max(now, h.at))
			}
		}
	}
	s.sessionLog().WithFields(logrus.Fields{
		"dropped": len(s.queue),
		"held":    len(s.held),
	}).Info("session stopped")
	s.queue = s.queue[:0]
	s.held = s.held[:0]
	s.state = Stopped
	if !s.finished {
		s.finished = true
		close(s.done)
		return []EventKind{EventPlaybackEnded}
	}
	return nil
}

// Run calls Pass every PassInterval until ctx is cancelled or the session has
// drained: every action dispatched and its time reached, and no instrument
// still busy with scheduled output.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PassInterval)
	defer ticker.Stop()
	s.Pass()
	for !s.Drained() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Pass()
		}
	}
	return nil
}

// Drained reports whether the session needs no more passes: it is not
// running, or every action has been dispatched and every instrument is idle.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return true
	}
	if !s.finished {
		return false
	}
	for _, inst := range s.instruments {
		if i, ok := inst.(instrument.Idler); ok && !i.Idle() {
			return false
		}
	}
	return true
}

func (s *Scheduler) advancers() []instrument.Advancer {
	var out []instrument.Advancer
	for _, inst := range s.instruments {
		if a, ok := inst.(instrument.Advancer); ok {
			out = append(out, a)
		}
	}
	return out
}

func (s *Scheduler) fire(events []EventKind) {
	if s.opts.OnEvent == nil {
		return
	}
	for _, ev := range events {
		s.opts.OnEvent(ev)
	}
}

func (s *Scheduler) sessionLog() logrus.FieldLogger {
	return s.log.WithField("session", s.session)
}
