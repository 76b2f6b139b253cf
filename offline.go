package notesched

import (
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/note"
)

// renderBlock is the number of frames rendered between scheduling passes.
const renderBlock = 256

// RenderSamples plays events through s with no audio output and returns
// seconds of interleaved stereo. A pass runs before every block, so the
// lookahead only has to cover one block.
func RenderSamples(s *Session, events []note.RawNoteEvent, bpm, seconds float64) []float32 {
	frames := int(float64(s.SampleRate()) * seconds)
	out := make([]float32, frames*2)
	s.Start(events, bpm)
	for pos := 0; pos < frames; pos += renderBlock {
		end := min(pos+renderBlock, frames)
		s.Pass()
		s.Process(out[pos*2 : end*2])
	}
	return out
}

// RenderUntilDrained renders until the session has drained and the mixer is
// silent, or maxSeconds have been rendered. Looping sessions always run to
// maxSeconds.
func RenderUntilDrained(s *Session, events []note.RawNoteEvent, bpm, maxSeconds float64) []float32 {
	limit := int(float64(s.SampleRate()) * maxSeconds)
	out := make([]float32, 0, min(limit, s.SampleRate()*10)*2)
	block := make([]float32, renderBlock*2)
	s.Start(events, bpm)
	for rendered := 0; rendered < limit; rendered += renderBlock {
		s.Pass()
		if s.Drained() && s.mixer.Idle() {
			break
		}
		n := min(renderBlock, limit-rendered)
		s.Process(block[:n*2])
		out = append(out, block[:n*2]...)
	}
	return out
}

// WriteWAV encodes interleaved stereo samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 2, 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(math.Round(float64(clampSample(v)) * math.MaxInt16))
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 2,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrap(err, "encode wav")
	}
	return errors.Wrap(enc.Close(), "finish wav")
}

// WriteWAVFile writes samples to path.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return errors.Wrapf(err, "%s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func clampSample(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
