package timeline

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeconv"
)

var tempo120 = timeconv.Tempo{BPM: 120, StepsPerBeat: 4}

func canonical(t *testing.T, raw note.RawNoteEvent, tempo timeconv.Tempo) note.CanonicalNoteEvent {
	t.Helper()
	ev, err := note.Normalize(raw, 0, tempo)
	if err != nil {
		t.Fatalf("normalize %+v: %v", raw, err)
	}
	return ev
}

func TestParseJSONArray(t *testing.T) {
	tl, err := ParseJSON([]byte(`[
		{"time": 0, "pitch": "C4", "duration": "4n", "velocity": 1.0, "instrument": "lead"},
		{"time": 4, "pitch": 62, "length": 2, "velocity": 90}
	]`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(tl.Events) != 2 || tl.BPM != 0 {
		t.Fatalf("timeline = %+v", tl)
	}
	first, second := tl.Events[0], tl.Events[1]
	if !first.Pitch.IsName() || !first.Velocity.IsUnit() || first.Instrument != "lead" {
		t.Fatalf("first = %+v", first)
	}
	if second.Length == nil || *second.Length != 2 || second.Velocity.IsUnit() {
		t.Fatalf("second = %+v", second)
	}
	if ev := canonical(t, second, tempo120); ev.MIDIPitch != 62 || ev.OnsetSeconds != 0.5 {
		t.Fatalf("second normalized = %+v", ev)
	}
}

func TestParseJSONDocument(t *testing.T) {
	tl, err := ParseJSON([]byte(`{"name": "intro", "bpm": 96, "events": [{"time": 0, "pitch": 60}]}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if tl.Name != "intro" || tl.BPM != 96 || len(tl.Events) != 1 {
		t.Fatalf("timeline = %+v", tl)
	}
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	for _, in := range []string{`[{"time": "soon"}]`, `{"events": 3}`, `nope`} {
		if _, err := ParseJSON([]byte(in)); err == nil {
			t.Fatalf("ParseJSON(%s) accepted", in)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	in := Timeline{Name: "loop", BPM: 140, Events: []note.RawNoteEvent{
		{Time: 2, Pitch: note.PitchName("A3"), Velocity: note.VelocityUnit(0.5), Duration: "8n"},
	}}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	out, err := ParseJSON(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if out.Name != in.Name || out.BPM != in.BPM || len(out.Events) != 1 {
		t.Fatalf("round trip = %+v", out)
	}
	if a, b := canonical(t, in.Events[0], tempo120), canonical(t, out.Events[0], tempo120); a != b {
		t.Fatalf("event changed: %+v vs %+v", a, b)
	}
}

func TestSMFRoundTrip(t *testing.T) {
	in := Timeline{BPM: 90, Events: []note.RawNoteEvent{
		{Time: 0, Pitch: note.PitchNumber(60), Velocity: note.VelocityInt(100), Length: note.Steps(4)},
		{Time: 4, Pitch: note.PitchName("E4"), Velocity: note.VelocityInt(64), Length: note.Steps(2), Instrument: "bass"},
		{Time: 4, Pitch: note.PitchNumber(67), Velocity: note.VelocityInt(80), Duration: "8n"},
	}}
	opts := SMFOptions{Channels: map[uint8]string{3: "bass"}}
	var buf bytes.Buffer
	if err := WriteSMF(&buf, in, opts); err != nil {
		t.Fatalf("WriteSMF: %v", err)
	}
	out, err := ReadSMF(&buf, opts)
	if err != nil {
		t.Fatalf("ReadSMF: %v", err)
	}
	if math.Abs(out.BPM-90) > 1e-6 {
		t.Fatalf("bpm = %v", out.BPM)
	}
	if len(out.Events) != len(in.Events) {
		t.Fatalf("events = %+v", out.Events)
	}
	tempo := timeconv.Tempo{BPM: 90, StepsPerBeat: 4}
	for i := range in.Events {
		want, got := canonical(t, in.Events[i], tempo), canonical(t, out.Events[i], tempo)
		if got.MIDIPitch != want.MIDIPitch || got.Instrument != want.Instrument ||
			math.Abs(got.OnsetSeconds-want.OnsetSeconds) > 1e-6 ||
			math.Abs(got.DurationSeconds-want.DurationSeconds) > 1e-6 ||
			math.Abs(got.VelocityUnit-want.VelocityUnit) > 1e-6 {
			t.Fatalf("event %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestWriteSMFLogsFallbacks(t *testing.T) {
	logger, hook := test.NewNullLogger()
	in := Timeline{Name: "broken", Events: []note.RawNoteEvent{
		{Time: 0, Pitch: note.PitchNumber(64), Velocity: note.VelocityInt(90), Length: note.Steps(2)},
		{Time: 2, Pitch: note.PitchName("H9"), Velocity: note.VelocityInt(90), Length: note.Steps(2)},
	}}
	opts := SMFOptions{Logger: logger}
	var buf bytes.Buffer
	if err := WriteSMF(&buf, in, opts); err != nil {
		t.Fatalf("WriteSMF: %v", err)
	}
	entries := hook.AllEntries()
	if len(entries) != 1 || entries[0].Level != logrus.WarnLevel || entries[0].Data["index"] != 1 {
		t.Fatalf("log entries = %+v", entries)
	}
	if err, _ := entries[0].Data[logrus.ErrorKey].(error); !errors.Is(err, note.ErrInvalidPitchFormat) {
		t.Fatalf("logged error = %v", entries[0].Data[logrus.ErrorKey])
	}
	out, err := ReadSMF(&buf, opts)
	if err != nil {
		t.Fatalf("ReadSMF: %v", err)
	}
	if len(out.Events) != 2 || out.Events[1].Pitch.String() != "60" {
		t.Fatalf("events = %+v", out.Events)
	}
}

func TestReadSMFPairsNotes(t *testing.T) {
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(960)
	var tr smf.Track
	tr.Add(0, midi.NoteOn(1, 60, 100))
	tr.Add(480, midi.NoteOn(1, 60, 0)) // velocity 0 ends the note
	tr.Add(0, midi.NoteOn(1, 62, 80))  // never ended
	tr.Close(960)
	if err := sm.Add(tr); err != nil {
		t.Fatalf("Add: %v", err)
	}
	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	tl, err := ReadSMF(&buf, SMFOptions{Channels: map[uint8]string{1: "keys"}})
	if err != nil {
		t.Fatalf("ReadSMF: %v", err)
	}
	if tl.BPM != 0 && tl.BPM != 120 {
		t.Fatalf("bpm = %v", tl.BPM)
	}
	var got []string
	for _, ev := range tl.Events {
		got = append(got, fmt.Sprintf("%v@%v+%d:%s", ev.Pitch, ev.Time, *ev.Length, ev.Instrument))
	}
	want := fmt.Sprint([]string{
		fmt.Sprintf("%v@0+2:keys", note.PitchNumber(60)),
		fmt.Sprintf("%v@2+4:keys", note.PitchNumber(62)),
	})
	if fmt.Sprint(got) != want {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groove.json")
	if err := os.WriteFile(path, []byte(`[{"time": 0, "pitch": 36}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	tl, err := Load(path, SMFOptions{StepsPerBeat: 4})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tl.Name != "groove" || len(tl.Events) != 1 {
		t.Fatalf("timeline = %+v", tl)
	}

	mid := filepath.Join(dir, "groove.mid")
	f, err := os.Create(mid)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteSMF(f, tl, SMFOptions{}); err != nil {
		t.Fatalf("WriteSMF: %v", err)
	}
	f.Close()
	if tl, err := Load(mid, SMFOptions{StepsPerBeat: 4}); err != nil || len(tl.Events) != 1 {
		t.Fatalf("Load(mid) = %+v, %v", tl, err)
	}

	if _, err := Load(filepath.Join(dir, "groove.mml"), SMFOptions{StepsPerBeat: 4}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Load(mml) = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.json"), SMFOptions{StepsPerBeat: 4}); err == nil {
		t.Fatalf("missing file loaded")
	}
}

func TestGridEvents(t *testing.T) {
	g := Grid{Rows: []Row{
		{Pitch: note.PitchNumber(36), Velocity: note.VelocityInt(120), Steps: ParsePattern("x...|x...")},
		{Pitch: note.PitchName("D2"), Steps: ParsePattern("x.x")},
	}}
	if g.Columns() != 8 {
		t.Fatalf("columns = %d", g.Columns())
	}
	var got []string
	for _, ev := range g.Events() {
		got = append(got, fmt.Sprintf("%v@%v", ev.Pitch, ev.Time))
		if ev.Length == nil || *ev.Length != 1 {
			t.Fatalf("length = %v", ev.Length)
		}
	}
	want := fmt.Sprint([]string{
		fmt.Sprintf("%v@0", note.PitchNumber(36)),
		fmt.Sprintf("%v@0", note.PitchName("D2")),
		fmt.Sprintf("%v@2", note.PitchName("D2")),
		fmt.Sprintf("%v@4", note.PitchNumber(36)),
	})
	if fmt.Sprint(got) != want {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestGridOneShots(t *testing.T) {
	g := Grid{Length: -1, Rows: []Row{{Pitch: note.PitchNumber(42), Steps: []bool{true}}}}
	ev := canonical(t, g.Events()[0], tempo120)
	if !ev.OneShot() {
		t.Fatalf("duration = %v, want one-shot", ev.DurationSeconds)
	}
}

func TestParsePattern(t *testing.T) {
	got := ParsePattern("X.1* -")
	want := []bool{true, false, true, true, false}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ParsePattern = %v, want %v", got, want)
	}
}
