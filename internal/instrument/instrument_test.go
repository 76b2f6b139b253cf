package instrument

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/notesched/internal/render"
	"github.com/cbegin/notesched/internal/voice"
)

type sinkCall struct {
	kind string
	at   float64
	id   int
}

type recordingSink struct {
	calls []sinkCall
}

func (s *recordingSink) NoteOn(at float64, id, pitch int, velocity float64) {
	s.calls = append(s.calls, sinkCall{"on", at, id})
}
func (s *recordingSink) NoteOff(at float64, id int) { s.calls = append(s.calls, sinkCall{"off", at, id}) }
func (s *recordingSink) Kill(at float64, id int)    { s.calls = append(s.calls, sinkCall{"kill", at, id}) }
func (s *recordingSink) Cancel(id int)              { s.calls = append(s.calls, sinkCall{"cancel", 0, id}) }

func (s *recordingSink) kinds() []string {
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.kind
	}
	return out
}

type onlyTrigger struct{}

func (onlyTrigger) Trigger(int, float64, float64, float64) voice.Handle { return voice.NoHandle }

func TestCheck(t *testing.T) {
	var nilSynth *Synth
	cases := []struct {
		name string
		v    any
		ok   bool
	}{
		{"synth", NewSynth(nil), true},
		{"midi", NewMIDIOut(nil, 0), true},
		{"nil", nil, false},
		{"typed nil", nilSynth, false},
		{"string", "piano", false},
		{"half", onlyTrigger{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst, err := Check(tc.v)
			if tc.ok {
				if err != nil || inst == nil {
					t.Fatalf("expected instrument, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrUnschedulableInstrument) {
				t.Fatalf("expected ErrUnschedulableInstrument, got %v", err)
			}
		})
	}
}

func TestSynthTriggerAndRelease(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynth(sink)
	h := s.Trigger(60, 0.8, 1.0, 2.0)
	s.Release(60, 3.0)
	if len(sink.calls) != 2 {
		t.Fatalf("calls = %v", sink.calls)
	}
	on, off := sink.calls[0], sink.calls[1]
	if on.kind != "on" || on.at != 1.0 || off.kind != "off" || off.at != 3.0 || on.id != off.id {
		t.Fatalf("unexpected calls %v", sink.calls)
	}
	if on.id != voiceID(h) {
		t.Fatalf("sink id %d does not match handle %+v", on.id, h)
	}
}

func TestReleaseUnknownPitchIsNoop(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynth(sink)
	s.Release(61, 0)
	if len(sink.calls) != 0 {
		t.Fatalf("unexpected calls %v", sink.calls)
	}
}

func TestSynthOneShotReleasesAutomatically(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynth(sink, WithOneShotSeconds(0.1), WithReleaseTail(0.05))
	s.Trigger(60, 1, 2.0, 0)
	if got := sink.kinds(); len(got) != 2 || got[1] != "off" || sink.calls[1].at != 2.1 {
		t.Fatalf("one-shot calls = %v", sink.calls)
	}
	s.Advance(2.05)
	if v := s.Voices(); len(v) != 1 || v[0].State != voice.Active {
		t.Fatalf("voice released early: %+v", v)
	}
	s.Advance(2.1)
	if v := s.Voices(); len(v) != 1 || v[0].State != voice.Releasing {
		t.Fatalf("voice not releasing: %+v", v)
	}
	s.Advance(2.2)
	if v := s.Voices(); len(v) != 0 {
		t.Fatalf("voice not reaped: %+v", v)
	}
}

func TestStealKillsVictimBeforeNewNote(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynth(sink, WithVoices(1))
	first := s.Trigger(60, 1, 0, 1)
	second := s.Trigger(62, 1, 0.5, 1)
	want := []string{"on", "cancel", "kill", "on"}
	got := sink.kinds()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if sink.calls[2].id != voiceID(first) || sink.calls[3].id != voiceID(second) {
		t.Fatalf("ids: %v", sink.calls)
	}
	if voiceID(first) == voiceID(second) {
		t.Fatalf("reused slot kept the same sink id")
	}
	// Releasing the stolen pitch finds nothing.
	s.Release(60, 1)
	if len(sink.calls) != 4 {
		t.Fatalf("release of stolen pitch produced %v", sink.calls[4:])
	}
}

func TestReleaseAllCancelsFutureVoices(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynth(sink)
	s.Trigger(60, 1, 0, 4)
	s.Trigger(64, 1, 5, 1) // dispatched ahead of the clock
	s.ReleaseAll(1)
	if v := s.Voices(); len(v) != 1 || v[0].Pitch != 60 || v[0].State != voice.Releasing {
		t.Fatalf("voices after ReleaseAll: %+v", v)
	}
	var offs int
	for _, c := range sink.calls {
		if c.kind == "off" {
			offs++
			if c.at != 1 {
				t.Fatalf("note-off at %v, want 1", c.at)
			}
		}
	}
	if offs != 1 {
		t.Fatalf("expected one note-off, got %v", sink.calls)
	}
}

func TestSamplerFreesAtBufferEnd(t *testing.T) {
	zones := render.NewZones(render.Zone{Root: 60, Data: make([]float32, 1000), SampleRate: 1000})
	s := NewSampler(nil, zones)
	s.Trigger(72, 1, 0, 0) // one octave up: half a second
	s.Advance(0.49)
	if len(s.Voices()) != 1 {
		t.Fatalf("voice freed early")
	}
	s.Advance(0.5)
	if len(s.Voices()) != 0 {
		t.Fatalf("voice still allocated at buffer end")
	}
}

func TestSamplerReleaseBeforeEnd(t *testing.T) {
	zones := render.NewZones(render.Zone{Root: 60, Data: make([]float32, 10000), SampleRate: 1000})
	sink := &recordingSink{}
	s := NewSampler(sink, zones, WithReleaseTail(0.05))
	s.Trigger(60, 1, 0, 1)
	s.Release(60, 1)
	s.Advance(1.1)
	if len(s.Voices()) != 0 {
		t.Fatalf("released voice not reaped")
	}
	if got := sink.kinds(); fmt.Sprint(got) != "[on off]" {
		t.Fatalf("calls = %v", got)
	}
}

func TestMIDIOutSendsWhenDue(t *testing.T) {
	var sent []midi.Message
	m := NewMIDIOut(func(msg midi.Message) error {
		sent = append(sent, msg)
		return nil
	}, 2)
	m.Trigger(60, 100.0/127.0, 1.0, 0.5)
	m.Release(60, 1.5)
	m.Advance(0.9)
	if len(sent) != 0 {
		t.Fatalf("sent early: %v", sent)
	}
	m.Advance(1.0)
	var ch, key, vel uint8
	if len(sent) != 1 || !sent[0].GetNoteStart(&ch, &key, &vel) {
		t.Fatalf("expected note-on, got %v", sent)
	}
	if ch != 2 || key != 60 || vel != 100 {
		t.Fatalf("note-on ch=%d key=%d vel=%d", ch, key, vel)
	}
	m.Advance(1.5)
	if len(sent) != 2 || !sent[1].GetNoteEnd(&ch, &key) || key != 60 {
		t.Fatalf("expected note-off, got %v", sent)
	}
	if m.Queued() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestMIDIOutReleaseAllDropsUnsentNotes(t *testing.T) {
	var sent []midi.Message
	m := NewMIDIOut(func(msg midi.Message) error {
		sent = append(sent, msg)
		return nil
	}, 0)
	m.Trigger(60, 1, 0, 2)
	m.Trigger(67, 1, 3, 1)
	m.Advance(0)
	m.ReleaseAll(1)
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want on+off for the sounding note", len(sent))
	}
	var ch, key uint8
	if !sent[1].GetNoteEnd(&ch, &key) || key != 60 {
		t.Fatalf("second message %v is not note-off 60", sent[1])
	}
	m.Advance(10)
	if len(sent) != 2 {
		t.Fatalf("cancelled note was sent: %v", sent[2:])
	}
}

func TestMIDIOutLogsSendErrors(t *testing.T) {
	m := NewMIDIOut(func(midi.Message) error { return errors.New("port closed") }, 0)
	m.Trigger(60, 1, 0, 0)
	m.Advance(1) // must not panic
	if len(m.Voices()) != 0 {
		t.Fatalf("voices = %+v", m.Voices())
	}
}
