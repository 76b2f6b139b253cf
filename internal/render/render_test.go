package render

import (
	"math"
	"testing"
)

func rms(buf []float32) float64 {
	var sum float64
	for _, s := range buf {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(buf)))
}

type recordingEngine struct {
	calls  []string
	frames int
}

func (e *recordingEngine) NoteOn(id, pitch int, velocity float64) {
	e.calls = append(e.calls, "on")
}
func (e *recordingEngine) NoteOff(id int) { e.calls = append(e.calls, "off") }
func (e *recordingEngine) Kill(id int)    { e.calls = append(e.calls, "kill") }
func (e *recordingEngine) RenderFrame() (float32, float32) {
	e.frames++
	return 0, 0
}
func (e *recordingEngine) ActiveVoiceCount() int { return 0 }

func TestMixerClockCountsFrames(t *testing.T) {
	m := NewMixer(48000)
	m.Add(&recordingEngine{})
	buf := make([]float32, 4800*2)
	m.Process(buf)
	if m.Frames() != 4800 {
		t.Fatalf("frames = %d, want 4800", m.Frames())
	}
	if got := m.Now(); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("Now() = %v, want 0.1", got)
	}
}

func TestMixerAppliesCommandsAtTheirFrame(t *testing.T) {
	m := NewMixer(1000)
	rec := &recordingEngine{}
	ch := m.Add(rec)
	ch.NoteOn(0.010, 1, 60, 1)
	ch.NoteOff(0.010, 1)
	ch.NoteOn(0.005, 2, 62, 1)

	m.Process(make([]float32, 5*2))
	if len(rec.calls) != 0 {
		t.Fatalf("commands applied early: %v", rec.calls)
	}
	m.Process(make([]float32, 1*2))
	if len(rec.calls) != 1 || rec.calls[0] != "on" {
		t.Fatalf("after frame 5: %v", rec.calls)
	}
	m.Process(make([]float32, 10*2))
	want := []string{"on", "on", "off"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", rec.calls, want)
		}
	}
	if m.Pending() != 0 {
		t.Fatalf("pending = %d", m.Pending())
	}
}

func TestLateCommandsApplyOnNextFrame(t *testing.T) {
	m := NewMixer(1000)
	rec := &recordingEngine{}
	ch := m.Add(rec)
	m.Process(make([]float32, 100*2))
	ch.Kill(0.001, 3)
	m.Process(make([]float32, 2))
	if len(rec.calls) != 1 || rec.calls[0] != "kill" {
		t.Fatalf("late command not applied: %v", rec.calls)
	}
}

func TestWavetableNoteOnProducesSoundAndReleases(t *testing.T) {
	params := DefaultParams()
	params.ReleaseSec = 0.01
	e := NewWavetable(48000, params)
	e.NoteOn(7, 69, 1)
	buf := make([]float32, 4800*2)
	for i := 0; i < len(buf); i += 2 {
		buf[i], buf[i+1] = e.RenderFrame()
	}
	if rms(buf) < 0.01 {
		t.Fatalf("expected audible output, rms=%v", rms(buf))
	}
	e.NoteOff(7)
	for i := 0; i < 4800; i++ {
		e.RenderFrame()
	}
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("voice still active after release tail")
	}
}

func TestWavetableKillIsImmediate(t *testing.T) {
	e := NewWavetable(48000, DefaultParams())
	e.NoteOn(1, 60, 1)
	e.RenderFrame()
	e.Kill(1)
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("kill left voice active")
	}
}

func TestWavetableReusesSlotForSameID(t *testing.T) {
	params := DefaultParams()
	params.Polyphony = 2
	e := NewWavetable(48000, params)
	e.NoteOn(1, 60, 1)
	e.NoteOn(1, 64, 1)
	if e.ActiveVoiceCount() != 1 {
		t.Fatalf("active = %d, want 1", e.ActiveVoiceCount())
	}
}

func TestSamplePlayerStopsAtBufferEnd(t *testing.T) {
	data := make([]float32, 100)
	for i := range data {
		data[i] = 0.5
	}
	s := NewSamplePlayer(1000, DefaultSampleParams(), NewZones(Zone{Root: 60, Data: data, SampleRate: 1000}))
	s.NoteOn(1, 72, 1) // one octave up: twice as fast
	for i := 0; i < 49; i++ {
		s.RenderFrame()
	}
	if s.ActiveVoiceCount() != 1 {
		t.Fatalf("voice ended early")
	}
	s.RenderFrame()
	s.RenderFrame()
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("voice still active past buffer end")
	}
}

func TestZoneSeconds(t *testing.T) {
	z := Zone{Root: 60, Data: make([]float32, 48000), SampleRate: 48000}
	if got := z.Seconds(60); math.Abs(got-1) > 1e-9 {
		t.Fatalf("root: %v", got)
	}
	if got := z.Seconds(48); math.Abs(got-2) > 1e-9 {
		t.Fatalf("octave down: %v", got)
	}
}

func TestZonesNearest(t *testing.T) {
	zs := NewZones(Zone{Root: 72}, Zone{Root: 48}, Zone{Root: 60})
	cases := map[int]int{0: 48, 53: 48, 54: 48, 55: 60, 66: 60, 67: 72, 127: 72}
	for pitch, want := range cases {
		z, ok := zs.Nearest(pitch)
		if !ok || z.Root != want {
			t.Fatalf("Nearest(%d) = %d, want %d", pitch, z.Root, want)
		}
	}
	if _, ok := Zones(nil).Nearest(60); ok {
		t.Fatalf("empty zones matched")
	}
}

func TestLFOTriangleShape(t *testing.T) {
	var l LFO
	l.Set(1, 1, ShapeTriangle)
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Sample(100)
	}
	if math.Abs(samples[0]+1) > 0.05 || math.Abs(samples[25]) > 0.05 || math.Abs(samples[50]-1) > 0.05 {
		t.Fatalf("unexpected triangle: %v %v %v", samples[0], samples[25], samples[50])
	}
}

func TestLFOInactiveIsSilent(t *testing.T) {
	var l LFO
	if l.Sample(48000) != 0 || l.Active() {
		t.Fatalf("zero LFO produced output")
	}
}

func TestChannelCancelDropsQueuedCommands(t *testing.T) {
	m := NewMixer(1000)
	rec := &recordingEngine{}
	other := &recordingEngine{}
	ch := m.Add(rec)
	och := m.Add(other)
	ch.NoteOn(0.05, 1, 60, 1)
	ch.NoteOff(0.08, 1)
	ch.NoteOn(0.05, 2, 62, 1)
	och.NoteOn(0.05, 1, 64, 1)
	ch.Cancel(1)
	m.Process(make([]float32, 100*2))
	if len(rec.calls) != 1 || len(other.calls) != 1 {
		t.Fatalf("rec=%v other=%v", rec.calls, other.calls)
	}
}

func TestShapeTables(t *testing.T) {
	if s, ok := ParseShape("Saw"); !ok || s != ShapeSaw {
		t.Fatalf("ParseShape(Saw) = %v, %v", s, ok)
	}
	if _, ok := ParseShape("organ"); ok {
		t.Fatalf("unknown shape accepted")
	}
	sq := ShapeTable(ShapeSquare, 8)
	if len(sq) != 8 || sq[0] != 1 || sq[4] != -1 {
		t.Fatalf("square table = %v", sq)
	}
	sine := ShapeTable(ShapeSine, 4)
	if math.Abs(sine[1]-1) > 1e-9 || math.Abs(sine[2]) > 1e-9 {
		t.Fatalf("sine table = %v", sine)
	}
}

func TestPluckZoneDecays(t *testing.T) {
	z := PluckZone(8000, 60, 0.5)
	if len(z.Data) != 4000 || z.Root != 60 || z.SampleRate != 8000 {
		t.Fatalf("zone = root %d, %d samples at %d", z.Root, len(z.Data), z.SampleRate)
	}
	if head, tail := rms(z.Data[:400]), rms(z.Data[3600:]); tail >= head/10 {
		t.Fatalf("no decay: head %v tail %v", head, tail)
	}
}
