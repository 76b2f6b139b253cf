package instrument

import (
	"math"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/notesched/internal/voice"
)

// Sender writes one message to a MIDI output, e.g. the function returned by
// midi.SendTo.
type Sender func(msg midi.Message) error

// MIDIOut plays notes on an external MIDI device. Messages are queued with
// their timestamps and written once the clock reaches them.
type MIDIOut struct {
	*poly
	q *midiQueue
}

// NewMIDIOut returns an instrument writing to channel (0-15) through send.
func NewMIDIOut(send Sender, channel uint8, opts ...Option) *MIDIOut {
	q := &midiQueue{
		send:    send,
		channel: channel & 0x0F,
		keys:    map[int]uint8{},
		sent:    map[int]bool{},
	}
	p := newPoly(q, opts)
	q.log = p.cfg.log
	return &MIDIOut{poly: p, q: q}
}

func (m *MIDIOut) Trigger(pitch int, velocity, at, duration float64) voice.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.allocate(pitch, velocity, at)
	if duration <= 0 {
		rel := at + m.cfg.oneShot
		m.sink.NoteOff(rel, voiceID(h))
		m.addTimer(timer{at: rel, h: h, kind: timerRelease})
	}
	return h
}

// Advance writes every message due at now.
func (m *MIDIOut) Advance(now float64) {
	m.poly.Advance(now)
	m.q.flush(now)
}

// ReleaseAll queues note-offs for every voice and writes them immediately.
func (m *MIDIOut) ReleaseAll(at float64) {
	m.poly.ReleaseAll(at)
	m.q.flush(at)
}

func (m *MIDIOut) Idle() bool {
	return m.poly.Idle() && m.Queued() == 0
}

// Queued returns the number of messages waiting for their time.
func (m *MIDIOut) Queued() int {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	return len(m.q.events)
}

type midiEvent struct {
	at  float64
	id  int
	on  bool
	msg midi.Message
}

type midiQueue struct {
	mu      sync.Mutex
	send    Sender
	channel uint8
	events  []midiEvent
	keys    map[int]uint8 // voice id -> key, while a note-on is queued or sounding
	sent    map[int]bool  // voice id -> note-on written
	log     logrus.FieldLogger
}

func (q *midiQueue) push(ev midiEvent) {
	i := sort.Search(len(q.events), func(i int) bool { return q.events[i].at > ev.at })
	q.events = append(q.events, midiEvent{})
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = ev
}

func (q *midiQueue) NoteOn(at float64, id, pitch int, velocity float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := uint8(pitch & 0x7F)
	// Velocity 0 would read as a note-off.
	vel := uint8(math.Max(1, math.Min(127, math.Round(velocity*127))))
	q.keys[id] = key
	q.push(midiEvent{at: at, id: id, on: true, msg: midi.NoteOn(q.channel, key, vel)})
}

func (q *midiQueue) NoteOff(at float64, id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, ok := q.keys[id]
	if !ok {
		return
	}
	q.push(midiEvent{at: at, id: id, msg: midi.NoteOff(q.channel, key)})
}

func (q *midiQueue) Kill(at float64, id int) { q.NoteOff(at, id) }

func (q *midiQueue) Cancel(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = lo.Reject(q.events, func(ev midiEvent, _ int) bool { return ev.id == id })
	if !q.sent[id] {
		delete(q.keys, id)
	}
}

func (q *midiQueue) flush(now float64) {
	q.mu.Lock()
	n := 0
	for n < len(q.events) && q.events[n].at <= now {
		n++
	}
	due := make([]midiEvent, n)
	copy(due, q.events[:n])
	q.events = append(q.events[:0], q.events[n:]...)
	for _, ev := range due {
		if ev.on {
			q.sent[ev.id] = true
		} else {
			delete(q.keys, ev.id)
			delete(q.sent, ev.id)
		}
	}
	q.mu.Unlock()

	if q.send == nil {
		return
	}
	for _, ev := range due {
		if err := q.send(ev.msg); err != nil {
			q.log.WithError(err).WithField("msg", ev.msg.String()).Warn("midi send failed")
		}
	}
}
