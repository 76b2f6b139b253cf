package timeline

import (
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeconv"
	"github.com/cbegin/notesched/internal/transport"
)

// Resolution is the ticks per quarter note used when writing files.
const Resolution = 960

// SMFOptions controls the mapping between MIDI files and note records.
type SMFOptions struct {
	// StepsPerBeat sets the step grid ticks are converted to. Zero means
	// transport.DefaultStepsPerBeat.
	StepsPerBeat float64
	// Channels routes MIDI channels (0-15) to instrument ids. Unmapped
	// channels use the session default instrument.
	Channels map[uint8]string
	// Logger receives warnings for records written with fallback values.
	// Nil means logrus.StandardLogger().
	Logger logrus.FieldLogger
}

func (o SMFOptions) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

func (o SMFOptions) stepsPerBeat() float64 {
	if o.StepsPerBeat > 0 {
		return o.StepsPerBeat
	}
	return transport.DefaultStepsPerBeat
}

type openNote struct {
	start int64
	order int
	ch    uint8
	key   uint8
	vel   uint8
}

type smfNote struct {
	openNote
	end int64
}

func LoadSMF(path string, opts SMFOptions) (Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Timeline{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	tl, err := ReadSMF(f, opts)
	if err != nil {
		return Timeline{}, errors.Wrapf(err, "%s", path)
	}
	return tl, nil
}

// ReadSMF converts the notes of every track into step-timed records. Note
// starts and ends are paired first-in first-out per channel and key; notes
// still open at the end of their track end there. Lengths are rounded to
// whole steps, at least one.
func ReadSMF(r io.Reader, opts SMFOptions) (Timeline, error) {
	sm, err := smf.ReadFrom(r)
	if err != nil {
		return Timeline{}, errors.Wrap(err, "read midi file")
	}
	mt, ok := sm.TimeFormat.(smf.MetricTicks)
	if !ok {
		return Timeline{}, errors.Wrap(ErrUnsupportedFormat, "midi file without metric ticks")
	}
	ticksPerStep := float64(mt.Resolution()) / opts.stepsPerBeat()

	var (
		notes []smfNote
		order int
	)
	for _, tr := range sm.Tracks {
		var abs int64
		open := map[[2]uint8][]openNote{}
		for _, ev := range tr {
			abs += int64(ev.Delta)
			msg := midi.Message(ev.Message)
			var ch, key, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := [2]uint8{ch, key}
				open[k] = append(open[k], openNote{start: abs, order: order, ch: ch, key: key, vel: vel})
				order++
			case msg.GetNoteEnd(&ch, &key):
				k := [2]uint8{ch, key}
				if pending := open[k]; len(pending) > 0 {
					notes = append(notes, smfNote{openNote: pending[0], end: abs})
					open[k] = pending[1:]
				}
			}
		}
		for _, pending := range open {
			for _, n := range pending {
				notes = append(notes, smfNote{openNote: n, end: abs})
			}
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].start != notes[j].start {
			return notes[i].start < notes[j].start
		}
		return notes[i].order < notes[j].order
	})

	tl := Timeline{Events: make([]note.RawNoteEvent, 0, len(notes))}
	for _, n := range notes {
		steps := int(math.Max(1, math.Round(float64(n.end-n.start)/ticksPerStep)))
		tl.Events = append(tl.Events, note.RawNoteEvent{
			Time:       float64(n.start) / ticksPerStep,
			Pitch:      note.PitchNumber(float64(n.key)),
			Velocity:   note.VelocityInt(int(n.vel)),
			Length:     note.Steps(steps),
			Instrument: opts.Channels[n.ch],
		})
	}
	if changes := sm.TempoChanges(); len(changes) > 0 {
		tl.BPM = changes[0].BPM
	}
	return tl, nil
}

type smfEvent struct {
	tick int64
	on   bool
	seq  int
	msg  midi.Message
}

// WriteSMF writes tl as a format 1 file with a tempo track and one note
// track. Records are normalized at tl.BPM (or the default tempo); one-shots
// last one step.
func WriteSMF(w io.Writer, tl Timeline, opts SMFOptions) error {
	bpm := tl.BPM
	if bpm <= 0 {
		bpm = transport.DefaultTempo
	}
	tempo := timeconv.Tempo{BPM: bpm, StepsPerBeat: opts.stepsPerBeat()}
	channels := map[string]uint8{}
	for ch, id := range opts.Channels {
		channels[id] = ch & 0x0F
	}
	ticks := func(seconds float64) int64 {
		return int64(math.Round(seconds * bpm / 60 * Resolution))
	}

	var events []smfEvent
	for i, raw := range tl.Events {
		ev, err := note.Normalize(raw, 0, tempo)
		if err != nil {
			opts.logger().WithFields(logrus.Fields{
				"timeline": tl.Name,
				"index":    i,
			}).WithError(err).Warn("note written with defaults")
		}
		dur := ev.DurationSeconds
		if ev.OneShot() {
			dur = tempo.Steps(1)
		}
		ch := channels[raw.Instrument]
		key := uint8(ev.MIDIPitch)
		vel := uint8(math.Max(1, math.Round(ev.VelocityUnit*127)))
		events = append(events,
			smfEvent{tick: ticks(ev.OnsetSeconds), on: true, seq: i, msg: midi.NoteOn(ch, key, vel)},
			smfEvent{tick: ticks(ev.OnsetSeconds + dur), seq: i, msg: midi.NoteOff(ch, key)},
		)
	}
	// Note-offs first at equal ticks so repeated keys retrigger.
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.tick != b.tick {
			return a.tick < b.tick
		}
		if a.on != b.on {
			return !a.on
		}
		return a.seq < b.seq
	})

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(Resolution)

	var tempoTrack smf.Track
	tempoTrack.Add(0, smf.MetaMeter(4, 4))
	tempoTrack.Add(0, smf.MetaTempo(bpm))
	tempoTrack.Close(0)
	if err := sm.Add(tempoTrack); err != nil {
		return errors.Wrap(err, "add tempo track")
	}

	var track smf.Track
	var last int64
	for _, ev := range events {
		track.Add(uint32(ev.tick-last), ev.msg)
		last = ev.tick
	}
	track.Close(0)
	if err := sm.Add(track); err != nil {
		return errors.Wrap(err, "add note track")
	}
	_, err := sm.WriteTo(w)
	return errors.Wrap(err, "write midi file")
}
