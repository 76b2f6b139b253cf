// Package audio streams a sample source to the system output through
// ebiten's audio context.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"
)

// ErrSampleRate is returned when an output is opened at a rate other than the
// one the process-wide audio context was created with.
var ErrSampleRate = errors.New("audio context sample rate mismatch")

// blockFrames caps the frames rendered per Process call, so a large read from
// the device still advances the clock in small steps.
const blockFrames = 512

// SampleSource fills dst with interleaved stereo float32 frames.
// render.Mixer is the usual source.
type SampleSource interface {
	Process(dst []float32)
}

// stream converts a SampleSource into the little-endian float32 stereo bytes
// ebiten reads. It never reports EOF; the output is closed instead.
type stream struct {
	mu     sync.Mutex
	source SampleSource
	block  [blockFrames * 2]float32
	frames int64
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const frameBytes = 8
	total := len(p) / frameBytes
	for done := 0; done < total; {
		n := min(blockFrames, total-done)
		buf := s.block[:n*2]
		s.source.Process(buf)
		out := p[done*frameBytes:]
		for i, v := range buf {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		done += n
	}
	s.frames += int64(total)
	return total * frameBytes, nil
}

func (s *stream) rendered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

var contextMu sync.Mutex

// audioContext returns the process-wide context, creating it on first use.
func audioContext(sampleRate int) (*ebitaudio.Context, error) {
	contextMu.Lock()
	defer contextMu.Unlock()
	ctx := ebitaudio.CurrentContext()
	if ctx == nil {
		return ebitaudio.NewContext(sampleRate), nil
	}
	if ctx.SampleRate() != sampleRate {
		return nil, errors.Wrapf(ErrSampleRate, "context runs at %d Hz, requested %d Hz", ctx.SampleRate(), sampleRate)
	}
	return ctx, nil
}

// Output is an open device stream pulling from one source.
type Output struct {
	player *ebitaudio.Player
	stream *stream
}

// Open creates a paused output at sampleRate. A positive bufferSize replaces
// ebiten's default device buffer; scheduling lookahead must exceed it.
func Open(sampleRate int, source SampleSource, bufferSize time.Duration) (*Output, error) {
	ctx, err := audioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	st := &stream{source: source}
	pl, err := ctx.NewPlayerF32(st)
	if err != nil {
		return nil, errors.Wrap(err, "open audio output")
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Output{player: pl, stream: st}, nil
}

func (o *Output) Start() { o.player.Play() }

func (o *Output) Pause() { o.player.Pause() }

func (o *Output) Playing() bool { return o.player.IsPlaying() }

// Position is how much the listener has heard.
func (o *Output) Position() time.Duration { return o.player.Position() }

// Frames counts frames handed to the device. It leads Position by the
// device buffer.
func (o *Output) Frames() int64 { return o.stream.rendered() }

// Close stops the stream. The output cannot be restarted.
func (o *Output) Close() error {
	o.player.Pause()
	return errors.Wrap(o.player.Close(), "close audio output")
}
